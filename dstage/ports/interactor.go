package ports

import "github.com/ZanzyTHEbar/dataset-stager/dstage/staging/types"

// Interactor is the reporting surface the pipeline talks to. Implementations
// must tolerate calls from a single goroutine only.
type Interactor interface {
	Output(message string)
	Warning(message string)
	Error(message string, err error)
	StartSpinner(message string)
	StopSpinner(success bool, message string)
	Progress(info types.ProgressInfo)
}

// NopInteractor discards everything.
type NopInteractor struct{}

func (NopInteractor) Output(string)               {}
func (NopInteractor) Warning(string)              {}
func (NopInteractor) Error(string, error)         {}
func (NopInteractor) StartSpinner(string)         {}
func (NopInteractor) StopSpinner(bool, string)    {}
func (NopInteractor) Progress(types.ProgressInfo) {}
