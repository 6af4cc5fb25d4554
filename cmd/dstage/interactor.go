package main

import (
	"fmt"
	"io"

	"github.com/ZanzyTHEbar/dataset-stager/dstage/staging/types"

	"github.com/rs/zerolog"
	"github.com/schollz/progressbar/v2"
)

// consoleInteractor prints to the terminal and draws one progress bar per phase.
type consoleInteractor struct {
	out   io.Writer
	log   zerolog.Logger
	bar   *progressbar.ProgressBar
	phase string
}

func newConsoleInteractor(out io.Writer, log zerolog.Logger) *consoleInteractor {
	return &consoleInteractor{out: out, log: log}
}

func (c *consoleInteractor) Output(message string) {
	c.finishBar()
	fmt.Fprintln(c.out, message)
}

func (c *consoleInteractor) Warning(message string) {
	c.finishBar()
	c.log.Warn().Msg(message)
}

func (c *consoleInteractor) Error(message string, err error) {
	c.finishBar()
	c.log.Error().Err(err).Msg(message)
}

func (c *consoleInteractor) StartSpinner(message string) {
	c.finishBar()
	fmt.Fprintf(c.out, "%s...\n", message)
}

func (c *consoleInteractor) StopSpinner(success bool, message string) {
	c.finishBar()
	mark := "done"
	if !success {
		mark = "failed"
	}
	fmt.Fprintf(c.out, "%s (%s)\n", message, mark)
}

func (c *consoleInteractor) Progress(info types.ProgressInfo) {
	if c.bar == nil || c.phase != info.Phase {
		c.finishBar()
		c.phase = info.Phase
		c.bar = progressbar.NewOptions(info.Total,
			progressbar.OptionSetWriter(c.out),
			progressbar.OptionSetDescription(info.Phase),
			progressbar.OptionSetRenderBlankState(true),
		)
	}
	c.bar.Set(info.Current)
	if info.Current >= info.Total {
		c.finishBar()
	}
}

func (c *consoleInteractor) finishBar() {
	if c.bar == nil {
		return
	}
	c.bar.Finish()
	fmt.Fprintln(c.out)
	c.bar = nil
	c.phase = ""
}
