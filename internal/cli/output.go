package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/rescale/jobshell/internal/dispatch"
	"github.com/rescale/jobshell/internal/status"
)

// reporter prints the status of each command after it runs.
type reporter struct {
	out    io.Writer
	errorf func(format string, a ...interface{}) string
	warnf  func(format string, a ...interface{}) string
	okf    func(format string, a ...interface{}) string
}

func newReporter(out io.Writer) *reporter {
	return &reporter{
		out:    out,
		errorf: color.New(color.FgRed, color.Bold).SprintfFunc(),
		warnf:  color.YellowString,
		okf:    color.GreenString,
	}
}

// report prints warnings for ignored or missing parameters, then the
// message for the status code. Plain success prints nothing.
func (r *reporter) report(o dispatch.Outcome) {
	if len(o.Unnecessary) > 0 {
		fmt.Fprintln(r.out, r.warnf("warning: ignored parameter(s): %s", strings.Join(o.Unnecessary, ", ")))
	}
	if o.Code == status.MissingParam && o.MissingParam != "" {
		fmt.Fprintln(r.out, r.warnf("missing parameter: %s", o.MissingParam))
	}

	switch {
	case o.Code.IsError():
		line := fmt.Sprintf("error %d: %s", int(o.Code), o.Code.Message())
		if o.Message != "" {
			line += " (" + o.Message + ")"
		}
		fmt.Fprintln(r.out, r.errorf("%s", line))
	case o.Code == status.OK, o.Code == status.Exit:
	default:
		fmt.Fprintln(r.out, r.okf("%s", o.Code.Message()))
	}
}
