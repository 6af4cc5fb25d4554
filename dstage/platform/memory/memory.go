// Package memory is an in-process Platform used by tests and dry runs.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/ZanzyTHEbar/dataset-stager/dstage/staging/types"

	"github.com/google/uuid"
)

// Platform keeps dataset records in memory. Upload destinations all point
// at UploadURL with a per-file "key" field.
type Platform struct {
	UploadURL string

	mu       sync.Mutex
	datasets map[string]*types.DatasetRecord
	byName   map[string]string
	requests []string
}

// New returns an empty platform handing out destinations on uploadURL.
func New(uploadURL string) *Platform {
	return &Platform{
		UploadURL: uploadURL,
		datasets:  make(map[string]*types.DatasetRecord),
		byName:    make(map[string]string),
	}
}

func (p *Platform) CreateDataset(_ context.Context, name string) (*types.DatasetRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.byName[name]; ok {
		return nil, fmt.Errorf("dataset %q already exists", name)
	}
	rec := &types.DatasetRecord{ID: uuid.NewString(), Name: name}
	p.datasets[rec.ID] = rec
	p.byName[name] = rec.ID
	out := *rec
	return &out, nil
}

func (p *Platform) GetCurrentDataset(_ context.Context, name string) (*types.DatasetRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	id, ok := p.byName[name]
	if !ok {
		return nil, nil
	}
	out := *p.datasets[id]
	return &out, nil
}

func (p *Platform) DeleteDataset(_ context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	rec, ok := p.datasets[id]
	if !ok {
		return fmt.Errorf("dataset %s not found", id)
	}
	delete(p.byName, rec.Name)
	delete(p.datasets, id)
	return nil
}

func (p *Platform) PatchDatasetList(_ context.Context, id string, sampleCount int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	rec, ok := p.datasets[id]
	if !ok {
		return fmt.Errorf("dataset %s not found", id)
	}
	rec.SampleCount = sampleCount
	return nil
}

func (p *Platform) GetPostURL(_ context.Context, id string, _ int64, fileName string) (*types.UploadDestination, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.datasets[id]; !ok {
		return nil, fmt.Errorf("dataset %s not found", id)
	}
	p.requests = append(p.requests, fileName)
	return &types.UploadDestination{
		URL:    p.UploadURL,
		Fields: map[string]string{"key": id + "/" + fileName},
	}, nil
}

func (p *Platform) AdvanceCursor(_ context.Context, id string, lastFileNumber int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	rec, ok := p.datasets[id]
	if !ok {
		return fmt.Errorf("dataset %s not found", id)
	}
	if lastFileNumber != rec.LastFileNumber+1 {
		return fmt.Errorf("cursor for %s must advance by one: at %d, got %d", id, rec.LastFileNumber, lastFileNumber)
	}
	rec.LastFileNumber = lastFileNumber
	return nil
}

// Requests returns every file name a destination was requested for.
func (p *Platform) Requests() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.requests...)
}

// SetCursor overwrites a dataset's cursor, simulating state left by an earlier run.
func (p *Platform) SetCursor(id string, lastFileNumber int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if rec, ok := p.datasets[id]; ok {
		rec.LastFileNumber = lastFileNumber
	}
}
