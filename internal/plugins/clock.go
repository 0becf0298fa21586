package plugins

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/praxishq/praxis/core/pkg/contracts"
)

var dateWords = regexp.MustCompile(`(?i)\b(date|today|day is it)\b`)

// Clock answers current time and date questions from the local clock.
type Clock struct {
	now contracts.Now
}

// NewClock creates the clock plugin.
func NewClock() *Clock {
	return &Clock{now: time.Now}
}

// NewClockAt creates a clock with a fixed time source for tests.
func NewClockAt(now contracts.Now) *Clock {
	return &Clock{now: now}
}

func (c *Clock) Name() string                    { return "clock" }
func (c *Clock) Capabilities() []string          { return []string{"time"} }
func (c *Clock) Init(contracts.Registry) error   { return nil }
func (c *Clock) HealthCheck(context.Context) error { return nil }

func (c *Clock) Handle(_ context.Context, req *contracts.Request) (*contracts.Response, error) {
	now := c.now()
	var text string
	if dateWords.MatchString(req.Text) && !strings.Contains(strings.ToLower(req.Text), "time") {
		text = fmt.Sprintf("Today is %s.", now.Format("Monday, January 2, 2006"))
	} else {
		text = fmt.Sprintf("It is %s.", now.Format("3:04 PM on Monday, January 2, 2006"))
	}
	return &contracts.Response{Text: text, Confidence: 0.95}, nil
}
