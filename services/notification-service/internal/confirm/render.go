package confirm

import (
	"fmt"
	"strings"
	"time"

	"github.com/barberdesk/barberdesk/libs/events"
)

// Message is a rendered confirmation, shared by every delivery channel.
type Message struct {
	Subject string
	Text    string
}

type parts struct {
	when, what, with, length string
}

func describe(ev events.AppointmentBooked) parts {
	p := parts{when: ev.Date, what: ev.ServiceName}
	if d, err := time.Parse(time.DateOnly, ev.Date); err == nil {
		p.when = d.Format("Mon 2 Jan 2006")
	}
	if p.what == "" {
		p.what = "your appointment"
	}
	if ev.StaffName != "" {
		p.with = " with " + ev.StaffName
	}
	if ev.DurationMinutes > 0 {
		p.length = fmt.Sprintf(" (%d min)", ev.DurationMinutes)
	}
	return p
}

// Render builds the customer confirmation for ev. Pending bookings are
// phrased as requests since the shop still has to confirm them.
func Render(ev events.AppointmentBooked, shopName string) Message {
	p := describe(ev)

	var b strings.Builder
	fmt.Fprintf(&b, "Hi %s, ", firstName(ev.Customer.Name))
	if ev.Status == "pending" {
		fmt.Fprintf(&b, "we got your request for %s%s on %s at %s%s. We'll confirm it shortly.", p.what, p.with, p.when, ev.StartTime, p.length)
	} else {
		fmt.Fprintf(&b, "%s%s is booked for %s at %s%s.", p.what, p.with, p.when, ev.StartTime, p.length)
	}
	if shopName != "" {
		fmt.Fprintf(&b, " See you at %s.", shopName)
	}

	subject := "Your booking on " + p.when
	if shopName != "" {
		subject = shopName + ": " + subject
	}
	return Message{Subject: subject, Text: b.String()}
}

// RenderReminder builds the reminder sent ahead of the appointment.
func RenderReminder(ev events.AppointmentBooked, shopName string) Message {
	p := describe(ev)
	var b strings.Builder
	fmt.Fprintf(&b, "Hi %s, a reminder: %s%s on %s at %s%s.", firstName(ev.Customer.Name), p.what, p.with, p.when, ev.StartTime, p.length)
	if shopName != "" {
		fmt.Fprintf(&b, " See you at %s.", shopName)
	}
	subject := "Reminder: your booking on " + p.when
	if shopName != "" {
		subject = shopName + ": " + subject
	}
	return Message{Subject: subject, Text: b.String()}
}

func firstName(name string) string {
	if f := strings.Fields(name); len(f) > 0 {
		return f[0]
	}
	return "there"
}
