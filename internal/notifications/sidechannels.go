package notifications

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/angelmondragon/lms-notifier/pkg/logger"
	"github.com/angelmondragon/lms-notifier/pkg/metrics"
)

const (
	DesktopTitle = "New Assignment! 📚"
	SoundClip    = "notification.mp3"
	SoundVolume  = 0.5
)

// Notifier is one user-facing side channel triggered by a stored record.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, rec Record) error
}

// Fanout runs every side channel for a record. A failing or panicking
// channel is logged and counted; it never affects the store or the others.
type Fanout struct {
	channels []Notifier
	logg     *logger.Logger
	metrics  *metrics.NotifierMetrics
}

func NewFanout(logg *logger.Logger, m *metrics.NotifierMetrics, channels ...Notifier) *Fanout {
	if logg == nil {
		logg = logger.Nop()
	}
	return &Fanout{channels: channels, logg: logg, metrics: m}
}

func (f *Fanout) Announce(ctx context.Context, rec Record) {
	for _, ch := range f.channels {
		if err := f.run(ctx, ch, rec); err != nil {
			logCtx := f.logg.WithFields(ctx, map[string]any{
				"channel":         ch.Name(),
				"notification_id": rec.ID.String(),
			})
			f.logg.Warn(f.logg.WithField(logCtx, "error", err.Error()), "side channel failed")
			f.metrics.IncSideChannelFailure(ch.Name())
		}
	}
}

func (f *Fanout) run(ctx context.Context, ch Notifier, rec Record) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return ch.Notify(ctx, rec)
}

// Message is the text shown for a record by the toast and desktop channels.
func Message(rec Record) string {
	if msg := strings.TrimSpace(rec.Payload.Message); msg != "" {
		return msg
	}
	return "New assignment: " + rec.Payload.Title()
}

// ToastNotifier surfaces records as in-app toasts. The daemon has no UI of
// its own, so toasts are log lines consumers can tail.
type ToastNotifier struct {
	logg *logger.Logger
}

func NewToastNotifier(logg *logger.Logger) *ToastNotifier {
	if logg == nil {
		logg = logger.Nop()
	}
	return &ToastNotifier{logg: logg}
}

func (t *ToastNotifier) Name() string { return "toast" }

func (t *ToastNotifier) Notify(ctx context.Context, rec Record) error {
	t.logg.Info(t.logg.WithFields(ctx, map[string]any{
		"toast":           Message(rec),
		"toast_type":      "info",
		"notification_id": rec.ID.String(),
	}), "toast")
	return nil
}

type Permission string

const (
	PermissionGranted Permission = "granted"
	PermissionDefault Permission = "default"
	PermissionDenied  Permission = "denied"
)

func ParsePermission(v string) Permission {
	switch Permission(strings.ToLower(strings.TrimSpace(v))) {
	case PermissionGranted:
		return PermissionGranted
	case PermissionDenied:
		return PermissionDenied
	default:
		return PermissionDefault
	}
}

// DesktopBackend is the OS notification surface.
type DesktopBackend interface {
	Permission() Permission
	RequestPermission(ctx context.Context) (Permission, error)
	Show(ctx context.Context, title, body string) error
}

// DesktopNotifier shows a desktop notification when permission is granted.
// While permission is undecided it asks for it and shows nothing for the
// current record.
type DesktopNotifier struct {
	backend DesktopBackend
}

func NewDesktopNotifier(backend DesktopBackend) *DesktopNotifier {
	return &DesktopNotifier{backend: backend}
}

func (d *DesktopNotifier) Name() string { return "desktop" }

func (d *DesktopNotifier) Notify(ctx context.Context, rec Record) error {
	switch d.backend.Permission() {
	case PermissionGranted:
		return d.backend.Show(ctx, DesktopTitle, Message(rec))
	case PermissionDefault:
		_, err := d.backend.RequestPermission(ctx)
		return err
	default:
		return nil
	}
}

// LogDesktop is a DesktopBackend that writes notifications to the log. Its
// permission starts from configuration; a pending request is granted, the
// way a user clicking "allow" would.
type LogDesktop struct {
	logg *logger.Logger

	mu         sync.Mutex
	permission Permission
}

func NewLogDesktop(logg *logger.Logger, initial Permission) *LogDesktop {
	if logg == nil {
		logg = logger.Nop()
	}
	return &LogDesktop{logg: logg, permission: initial}
}

func (l *LogDesktop) Permission() Permission {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.permission
}

func (l *LogDesktop) RequestPermission(ctx context.Context) (Permission, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.permission == PermissionDefault {
		l.permission = PermissionGranted
		l.logg.Info(ctx, "desktop notification permission granted")
	}
	return l.permission, nil
}

func (l *LogDesktop) Show(ctx context.Context, title, body string) error {
	l.logg.Info(l.logg.WithFields(ctx, map[string]any{
		"title": title,
		"body":  body,
	}), "desktop notification")
	return nil
}

// SoundPlayer plays a named clip at a volume in [0, 1].
type SoundPlayer interface {
	Play(ctx context.Context, clip string, volume float64) error
}

// SoundNotifier plays the notification clip. Playback errors are swallowed;
// autoplay restrictions and missing audio devices are normal.
type SoundNotifier struct {
	player SoundPlayer
}

func NewSoundNotifier(player SoundPlayer) *SoundNotifier {
	return &SoundNotifier{player: player}
}

func (s *SoundNotifier) Name() string { return "sound" }

func (s *SoundNotifier) Notify(ctx context.Context, _ Record) error {
	if s.player == nil {
		return nil
	}
	_ = s.player.Play(ctx, SoundClip, SoundVolume)
	return nil
}

// BellPlayer rings the terminal bell on w.
type BellPlayer struct {
	W io.Writer
}

func (b BellPlayer) Play(_ context.Context, _ string, volume float64) error {
	if b.W == nil || volume <= 0 {
		return nil
	}
	_, err := io.WriteString(b.W, "\a")
	return err
}
