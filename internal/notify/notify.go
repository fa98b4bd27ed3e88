// Package notify sends chat and email alerts for notable poll submissions and
// keeps the per-day submission counter.
package notify

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	HighValueThreshold = 20
	VeryInterested     = "very-interested"

	ChannelChat  = "chat"
	ChannelEmail = "email"

	DailyCounterTTL = 24 * time.Hour
)

// ErrNotConfigured is returned by senders that have no destination. The
// dispatcher counts it as skipped rather than failed.
var ErrNotConfigured = errors.New("notification channel not configured")

// Submission carries the fields of a just-recorded response that alerts need.
type Submission struct {
	SessionID        string
	Interest         string
	PriceWilling     int
	UseCases         []string
	Email            string
	TimeToComplete   time.Duration
	InteractionCount int
	SubmittedAt      time.Time
}

// Triggers reports which alert conditions a submission meets.
type Triggers struct {
	HighValue    bool
	HighInterest bool
}

func IsHighValue(price int) bool {
	return price > HighValueThreshold
}

func IsHighInterest(interest string) bool {
	return interest == VeryInterested
}

func Evaluate(s Submission) Triggers {
	return Triggers{
		HighValue:    IsHighValue(s.PriceWilling),
		HighInterest: IsHighInterest(s.Interest),
	}
}

// DailyCounterKey is the cache key of the submission counter for t's UTC day.
func DailyCounterKey(t time.Time) string {
	return "poll:daily:" + t.UTC().Format("2006-01-02")
}

type ChatMessage struct {
	Channel string
	Text    string
}

type EmailMessage struct {
	Subject string
	Body    string
}

func highValueChat(s Submission) string {
	var b strings.Builder
	b.WriteString(":moneybag: *High-value poll response*\n")
	fmt.Fprintf(&b, "Price willing: $%d/month\n", s.PriceWilling)
	fmt.Fprintf(&b, "Interest: %s\n", mrkdwn(orDash(s.Interest)))
	fmt.Fprintf(&b, "Use cases: %s\n", mrkdwn(joinOrDash(s.UseCases)))
	fmt.Fprintf(&b, "Email: %s\n", mrkdwn(orNotProvided(s.Email)))
	fmt.Fprintf(&b, "Completed in: %s\n", seconds(s.TimeToComplete))
	fmt.Fprintf(&b, "Interactions: %d", s.InteractionCount)
	return b.String()
}

func highInterestChat(s Submission) string {
	var b strings.Builder
	b.WriteString(":fire: *Very interested respondent*\n")
	fmt.Fprintf(&b, "Price willing: $%d/month\n", s.PriceWilling)
	fmt.Fprintf(&b, "Email: %s\n", mrkdwn(orNotProvided(s.Email)))
	fmt.Fprintf(&b, "Use cases: %s", mrkdwn(joinOrDash(s.UseCases)))
	return b.String()
}

func highValueEmail(s Submission) EmailMessage {
	var b strings.Builder
	b.WriteString("A poll response crossed the high-value threshold.\n\n")
	fmt.Fprintf(&b, "Price willing:   $%d/month\n", s.PriceWilling)
	fmt.Fprintf(&b, "Interest level:  %s\n", orDash(s.Interest))
	fmt.Fprintf(&b, "Use cases:       %s\n", joinOrDash(s.UseCases))
	fmt.Fprintf(&b, "Email:           %s\n", orNotProvided(s.Email))
	fmt.Fprintf(&b, "Completion time: %s\n", seconds(s.TimeToComplete))
	fmt.Fprintf(&b, "Interactions:    %d\n", s.InteractionCount)
	fmt.Fprintf(&b, "Session:         %s\n", s.SessionID)

	return EmailMessage{
		Subject: fmt.Sprintf("High-value poll response: $%d/month", s.PriceWilling),
		Body:    b.String(),
	}
}

// mrkdwn escapes respondent text so Slack shows it literally instead of
// expanding mentions or links.
var mrkdwnEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

func mrkdwn(s string) string {
	return mrkdwnEscaper.Replace(s)
}

func seconds(d time.Duration) string {
	return fmt.Sprintf("%.1fs", d.Seconds())
}

func joinOrDash(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func orNotProvided(s string) string {
	if s == "" {
		return "not provided"
	}
	return s
}
