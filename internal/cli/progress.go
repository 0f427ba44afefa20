package cli

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"

	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/builder"
)

// progress renders builder events as a progress bar with one step per
// stage.
type progress struct {
	bar *progressbar.ProgressBar
	out io.Writer
}

func newProgress(w io.Writer) *progress {
	bar := progressbar.NewOptions(len(builder.Stages),
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription("starting"),
		progressbar.OptionSetWidth(30),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionThrottle(0),
		progressbar.OptionEnableColorCodes(!color.NoColor),
	)
	return &progress{bar: bar, out: w}
}

// OnEvent implements builder.Observer.
func (p *progress) OnEvent(e builder.Event) {
	switch {
	case !e.Done:
		p.bar.Describe(string(e.Stage))
	case e.Err != nil:
		_ = p.bar.Exit()
		fmt.Fprintf(p.out, "\n%s %s\n", color.RedString("✗"), e.Stage)
	case e.Stage == builder.StageDone:
		_ = p.bar.Finish()
	default:
		if e.Skipped {
			p.bar.Describe(fmt.Sprintf("%s (skipped: %s)", e.Stage, e.Message))
		}
		_ = p.bar.Add(1)
	}
}
