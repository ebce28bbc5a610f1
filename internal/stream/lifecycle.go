package stream

import (
	"context"
	"fmt"
	"time"

	"github.com/looplab/fsm"
)

// Event is a lifecycle trigger.
type Event string

const (
	EventStart    Event = "start"
	EventPause    Event = "pause"
	EventResume   Event = "resume"
	EventComplete Event = "complete"
	EventCancel   Event = "cancel"
	EventFail     Event = "fail"
)

// transitions is the whole lifecycle. Completed and cancelled have no outgoing
// edges. Error resumes like a pause.
var transitions = fsm.Events{
	{Name: string(EventStart), Src: []string{string(StatusPending)}, Dst: string(StatusActive)},
	{Name: string(EventPause), Src: []string{string(StatusActive)}, Dst: string(StatusPaused)},
	{Name: string(EventResume), Src: []string{string(StatusPaused), string(StatusError)}, Dst: string(StatusActive)},
	{Name: string(EventComplete), Src: []string{string(StatusActive)}, Dst: string(StatusCompleted)},
	{Name: string(EventFail), Src: []string{string(StatusActive)}, Dst: string(StatusError)},
	{
		Name: string(EventCancel),
		Src:  []string{string(StatusPending), string(StatusActive), string(StatusPaused), string(StatusError)},
		Dst:  string(StatusCancelled),
	},
}

// Can reports whether ev is accepted from status.
func Can(status Status, ev Event) bool {
	return fsm.NewFSM(string(status), transitions, nil).Can(string(ev))
}

// ActivationEvent picks the event that moves s into active, if any.
func ActivationEvent(status Status) (Event, bool) {
	switch status {
	case StatusPending:
		return EventStart, true
	case StatusPaused, StatusError:
		return EventResume, true
	}
	return "", false
}

// Apply runs ev against s at now and updates the timing bookkeeping. reason is
// recorded as ErrorMessage for EventFail and ignored otherwise. It returns the
// names of the fields that changed.
func Apply(s *Stream, ev Event, now time.Time, reason string) ([]string, error) {
	fields := []string{FieldStatus}

	m := fsm.NewFSM(string(s.Status), transitions, fsm.Callbacks{
		"leave_" + string(StatusActive): func(_ context.Context, _ *fsm.Event) {
			s.closeActiveSpan(now)
			fields = append(fields, FieldElapsed)
		},
		"enter_" + string(StatusActive): func(_ context.Context, _ *fsm.Event) {
			if s.StartedAt == nil {
				s.StartedAt = timePtr(now)
				fields = append(fields, FieldStartedAt)
			}
			s.ActiveSince = timePtr(now)
			if s.ErrorMessage != "" {
				s.ErrorMessage = ""
				fields = append(fields, FieldErrorMessage)
			}
		},
		"enter_state": func(_ context.Context, e *fsm.Event) {
			s.Status = Status(e.Dst)
		},
	})
	if err := m.Event(context.Background(), string(ev)); err != nil {
		return nil, fmt.Errorf("%w: %s from %s", ErrInvalidTransition, ev, s.Status)
	}

	switch ev {
	case EventPause:
		s.PausedAt = timePtr(now)
		fields = append(fields, FieldPausedAt)
	case EventFail:
		s.PausedAt = timePtr(now)
		s.ErrorMessage = reason
		fields = append(fields, FieldPausedAt, FieldErrorMessage)
	case EventComplete, EventCancel:
		s.CompletedAt = timePtr(now)
		fields = append(fields, FieldCompletedAt)
	}
	return fields, nil
}

func (s *Stream) closeActiveSpan(now time.Time) {
	if s.ActiveSince != nil && now.After(*s.ActiveSince) {
		s.ElapsedActiveSeconds += now.Sub(*s.ActiveSince).Seconds()
	}
	s.ActiveSince = nil
}

func timePtr(t time.Time) *time.Time { return &t }

// Demote turns a record that claims to be active, but has no timer behind it,
// into a paused one. The active span is closed at 'at', which is usually the
// moment the record was last saved. It reports whether s changed.
func Demote(s *Stream, at time.Time) bool {
	if s.Status != StatusActive {
		return false
	}
	if s.ActiveSince != nil && at.Before(*s.ActiveSince) {
		at = *s.ActiveSince
	}
	s.closeActiveSpan(at)
	s.Status = StatusPaused
	s.PausedAt = timePtr(at)
	return true
}
