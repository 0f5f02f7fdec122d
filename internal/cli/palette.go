package cli

import (
	"github.com/amanthanvi/wardkeeper/internal/storage"
	"github.com/fatih/color"
)

// palette colors status words in human output. Color is also dropped
// automatically when stdout is not a terminal.
type palette struct {
	ok    *color.Color
	info  *color.Color
	warn  *color.Color
	bad   *color.Color
	muted *color.Color
}

func newPalette(globals *GlobalOptions) palette {
	p := palette{
		ok:    color.New(color.FgGreen, color.Bold),
		info:  color.New(color.FgBlue),
		warn:  color.New(color.FgYellow),
		bad:   color.New(color.FgRed, color.Bold),
		muted: color.New(color.Faint),
	}
	if globals != nil && globals.NoColor {
		for _, c := range []*color.Color{p.ok, p.info, p.warn, p.bad, p.muted} {
			c.DisableColor()
		}
	}
	return p
}

func (p palette) status(status storage.AppointmentStatus) string {
	switch status {
	case storage.AppointmentScheduled:
		return p.info.Sprint(status)
	case storage.AppointmentInProgress:
		return p.warn.Sprint(status)
	case storage.AppointmentCompleted:
		return p.ok.Sprint(status)
	case storage.AppointmentNoShow:
		return p.bad.Sprint(status)
	default:
		return p.muted.Sprint(status)
	}
}

func (p palette) verdict(valid bool) string {
	if valid {
		return p.ok.Sprint("valid")
	}
	return p.bad.Sprint("INVALID")
}
