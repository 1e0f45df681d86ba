// Package resolve finds the realtime endpoint a source page connects to by
// watching the WebSocket connections a browser session opens while the page loads.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"streamgrab/internal/browser"
	"streamgrab/internal/httputil"
	"streamgrab/internal/logging"
	"streamgrab/internal/page"
)

// ErrNavigation wraps browser failures while loading the source page.
var ErrNavigation = errors.New("navigation failed")

// Resolution is a confirmed endpoint.
type Resolution struct {
	Endpoint string
	Title    string
	Frames   int // frames the page had received on the endpoint before resolution returned
}

// Resolver locates endpoints. The zero value is not usable; see the field docs.
type Resolver struct {
	HostMatch         string        // substring the endpoint URL must contain
	ConfirmSelector   string        // element whose visibility confirms the player started
	ConfirmTimeout    time.Duration // bound on the confirmation wait
	SettleDelay       time.Duration // max extra wait for the endpoint's first frame
	RequireFrame      bool          // fail when no frame arrives within SettleDelay
	NavigationTimeout time.Duration // bound on page load and network idle
	Logger            zerolog.Logger
}

// Resolve navigates session to pageURL and returns the first connection whose
// URL contains HostMatch, provided the confirmation element became visible
// in time and the connection is still open. ok is false for the normal
// "no endpoint" outcomes; err is reserved for browser failures and cancellation.
func (r *Resolver) Resolve(ctx context.Context, session browser.Session, pageURL string) (Resolution, bool, error) {
	logger := r.Logger.With().Str("page", pageURL).Logger()

	events, unsubscribe := session.Subscribe()
	defer unsubscribe()
	w := &watcher{match: r.HostMatch}

	logger.Info().Str(logging.FieldEvent, "resolve.navigate").Msg("navigating to stream page")

	navCtx, cancelNav := context.WithTimeout(ctx, r.NavigationTimeout)
	err := session.Navigate(navCtx, pageURL)
	cancelNav()
	switch {
	case err == nil:
	case errors.Is(err, browser.ErrNetworkBusy):
		logger.Warn().Dur("timeout", r.NavigationTimeout).Msg("network never went idle, continuing")
	case ctx.Err() != nil:
		return Resolution{}, false, ctx.Err()
	default:
		return Resolution{}, false, fmt.Errorf("%w: %w", ErrNavigation, err)
	}

	confirmCtx, cancelConfirm := context.WithTimeout(ctx, r.ConfirmTimeout)
	err = session.WaitVisible(confirmCtx, r.ConfirmSelector)
	cancelConfirm()
	if err != nil {
		if ctx.Err() != nil {
			return Resolution{}, false, ctx.Err()
		}
		if err := w.sync(ctx, session, events); err != nil {
			return Resolution{}, false, err
		}
		logger.Warn().
			Err(err).
			Str("selector", r.ConfirmSelector).
			Bool("endpoint_seen", w.url != "").
			Msg("confirmation element did not appear")
		return Resolution{}, false, nil
	}

	// Everything the page did before confirmation must be applied before deciding.
	if err := w.sync(ctx, session, events); err != nil {
		return Resolution{}, false, err
	}

	// Readiness: the endpoint's first frame, or the settle delay, whichever comes first.
	settle := time.NewTimer(r.SettleDelay)
	defer settle.Stop()
wait:
	for w.frames == 0 && !w.closed {
		select {
		case ev, ok := <-events:
			if !ok {
				return Resolution{}, false, errSessionGone
			}
			w.observe(ev)
		case <-settle.C:
			break wait
		case <-ctx.Done():
			return Resolution{}, false, ctx.Err()
		}
	}

	switch {
	case w.url == "":
		logger.Warn().Str("host_match", r.HostMatch).Msg("no matching connection found")
		return Resolution{}, false, nil
	case w.closed:
		logger.Warn().Str("endpoint", httputil.RedactQuery(w.url)).Msg("matching connection closed before confirmation")
		return Resolution{}, false, nil
	case r.RequireFrame && w.frames == 0:
		logger.Warn().Str("endpoint", httputil.RedactQuery(w.url)).Dur("settle", r.SettleDelay).Msg("no frame received on endpoint")
		return Resolution{}, false, nil
	}

	res := Resolution{Endpoint: w.url, Frames: w.frames}
	if html, err := session.HTML(ctx); err == nil {
		if info, err := page.Inspect(html, r.ConfirmSelector); err == nil {
			res.Title = info.Title
			logger.Debug().Int("players", info.Players).Msg("page inspected")
		}
	} else {
		logger.Debug().Err(err).Msg("could not read page document")
	}

	logger.Info().
		Str(logging.FieldEvent, "resolve.found").
		Str("endpoint", httputil.RedactQuery(res.Endpoint)).
		Int("initial_frames", res.Frames).
		Str("title", res.Title).
		Msg("endpoint captured")

	return res, true, nil
}

var errSessionGone = fmt.Errorf("%w: browser session closed", ErrNavigation)

// watcher accumulates connection events for a single Resolve call. It is
// only touched by the goroutine running Resolve.
type watcher struct {
	match  string
	id     string
	url    string
	frames int
	closed bool
}

// sync applies every event published before the call, using a marker as a barrier.
func (w *watcher) sync(ctx context.Context, session browser.Session, events <-chan browser.Event) error {
	token := uuid.NewString()
	session.Mark(token)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return errSessionGone
			}
			if ev.Kind == browser.Marker && ev.ID == token {
				return nil
			}
			w.observe(ev)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (w *watcher) observe(ev browser.Event) {
	switch ev.Kind {
	case browser.SocketOpened:
		// first match wins
		if w.id == "" && strings.Contains(ev.URL, w.match) {
			w.id, w.url = ev.ID, ev.URL
		}
	case browser.SocketFrame:
		if w.id != "" && ev.ID == w.id && !w.closed {
			w.frames++
		}
	case browser.SocketClosed:
		if w.id != "" && ev.ID == w.id {
			w.closed = true
		}
	}
}
