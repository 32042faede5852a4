package loop

import (
	"context"
	"math"
	"time"
)

const (
	DefaultUpdateFps = 30
	DefaultRenderFps = 60

	// maxCatchUp bounds how much time one Tick may feed into the clocks.
	maxCatchUp = 2000 * time.Millisecond
	// IntervalPeriod is how often Run calls Interval.
	IntervalPeriod = 500 * time.Millisecond
	averageWindow  = 5
)

// Callbacks are invoked by Tick. Both may be nil.
type Callbacks struct {
	// Update runs one fixed simulation step starting at t.
	Update func(t, dt time.Duration)
	// Render runs at most once per Tick. dt is how far the render clock
	// is ahead of the update clock and u is dt in update steps.
	Render func(t, dt time.Duration, u float64)
}

// Rates holds one value for each clock.
type Rates struct {
	Update float64
	Render float64
}

// Loop runs update steps and renders on two independent fixed-step clocks.
//
// A Loop is not safe for concurrent use. Run owns it while it runs;
// callbacks may use every method.
type Loop struct {
	cb Callbacks

	updateFps      int
	renderFps      int
	updateDuration time.Duration
	renderDuration time.Duration
	tickDuration   time.Duration
	frameCap       bool

	running       bool
	pauses        int
	lastTickTime  time.Time
	lastFrameTime time.Time

	updateCount      int
	updateTime       time.Duration
	passedUpdateTime time.Duration

	renderCount      int
	renderTime       time.Duration
	passedRenderTime time.Duration

	fps, load              Rates
	fpsUpdate, fpsRender   average
	loadUpdate, loadRender average
}

// New creates a stopped loop. Rates of zero or less use the defaults.
func New(updateFps, renderFps int, cb Callbacks) *Loop {
	l := &Loop{cb: cb}
	l.SetFps(updateFps, renderFps)
	return l
}

// SetFps changes both rates. The update step is rounded up and the render
// step down to whole milliseconds so neither rate is exceeded when capped.
func (l *Loop) SetFps(updateFps, renderFps int) {
	if updateFps <= 0 {
		updateFps = DefaultUpdateFps
	}
	if renderFps <= 0 {
		renderFps = DefaultRenderFps
	}
	l.updateFps = updateFps
	l.renderFps = renderFps
	l.updateDuration = time.Duration(math.Ceil(1000/float64(updateFps))) * time.Millisecond
	l.renderDuration = max(time.Duration(math.Floor(1000/float64(renderFps)))*time.Millisecond, time.Millisecond)
	l.tickDuration = max(l.updateDuration, l.renderDuration)
}

// SetFrameCap limits update steps to updateFps per interval. Steps over the
// limit still advance the update clock but skip the callback.
func (l *Loop) SetFrameCap(on bool) {
	l.frameCap = on
}

func (l *Loop) UpdateDuration() time.Duration { return l.updateDuration }
func (l *Loop) RenderDuration() time.Duration { return l.renderDuration }
func (l *Loop) Running() bool                 { return l.running }
func (l *Loop) Paused() bool                  { return l.pauses > 0 }

// Fps returns the averaged frame rates as of the last Interval.
func (l *Loop) Fps() Rates { return l.fps }

// Load returns the averaged share of each step's budget spent in its
// callback.
func (l *Loop) Load() Rates { return l.load }

// Time returns the update clock. With smooth set it returns the time fed
// into the loop instead, which is not quantized to update steps.
func (l *Loop) Time(smooth bool) time.Duration {
	if smooth {
		return l.passedUpdateTime
	}
	return l.updateTime
}

// Pause stops the clocks. Calls nest: the clocks run again once every
// Pause has been matched by a Resume.
func (l *Loop) Pause() {
	l.pauses++
}

// Resume undoes one Pause.
func (l *Loop) Resume() {
	l.pauses = max(l.pauses-1, 0)
}

// Start resets the loop and starts its clocks at now. It returns false if
// the loop was already running.
func (l *Loop) Start(now time.Time) bool {
	if l.running {
		return false
	}
	l.reset()
	l.running = true
	l.lastTickTime = now
	l.lastFrameTime = now
	return true
}

// Stop resets the loop. It returns false if the loop was not running.
func (l *Loop) Stop() bool {
	if !l.running {
		return false
	}
	l.reset()
	return true
}

func (l *Loop) reset() {
	l.running = false
	l.pauses = 0
	l.lastTickTime = time.Time{}
	l.lastFrameTime = time.Time{}
	l.updateCount, l.updateTime, l.passedUpdateTime = 0, 0, 0
	l.renderCount, l.renderTime, l.passedRenderTime = 0, 0, 0
	l.fps, l.load = Rates{}, Rates{}
	l.fpsUpdate, l.fpsRender = average{}, average{}
	l.loadUpdate, l.loadRender = average{}, average{}
}

// Tick feeds the time since the previous Tick into both clocks, runs every
// update step that is owed and renders once if the render clock advanced.
func (l *Loop) Tick(now time.Time) {
	if !l.running {
		return
	}
	l.lastFrameTime = now
	diff := min(max(now.Sub(l.lastTickTime), 0), maxCatchUp)
	l.lastTickTime = now
	if l.pauses == 0 {
		l.passedUpdateTime += diff
		l.passedRenderTime += diff
	}

	beforeUpdate := time.Now()
	for l.updateTime < l.passedUpdateTime {
		if !l.frameCap || l.updateCount < l.updateFps {
			if l.cb.Update != nil {
				l.cb.Update(l.updateTime, l.updateDuration)
			}
			l.updateCount++
		}
		l.updateTime += l.updateDuration
	}
	usedUpdate := time.Since(beforeUpdate)

	oldRenderTime := l.renderTime
	for l.renderTime < l.passedRenderTime {
		l.renderTime += l.renderDuration
	}

	beforeRender := time.Now()
	if (l.renderTime > oldRenderTime || l.pauses > 0) && l.renderCount < l.renderFps {
		dt := l.renderTime - l.updateTime
		if l.cb.Render != nil {
			l.cb.Render(l.renderTime, dt, float64(dt)/float64(l.updateDuration))
		}
		l.renderCount++
	}
	usedRender := time.Since(beforeRender)

	l.load.Update = l.loadUpdate.add(float64(usedUpdate) / float64(l.updateDuration))
	l.load.Render = l.loadRender.add(float64(usedRender) / float64(l.renderDuration))
}

// Interval is the low resolution companion of Tick. It ticks if no Tick
// happened for longer than one step, then folds the step counts of the
// past period into the fps averages.
func (l *Loop) Interval(now time.Time) {
	if !l.running {
		return
	}
	if now.Sub(l.lastFrameTime) > l.tickDuration {
		l.Tick(now)
	}
	perSecond := float64(time.Second / IntervalPeriod)
	l.fps.Update = l.fpsUpdate.add(float64(l.updateCount) * perSecond)
	l.fps.Render = l.fpsRender.add(float64(l.renderCount) * perSecond)
	l.updateCount = 0
	l.renderCount = 0
}

// Run starts the loop and drives it until ctx is done: Tick once per render
// step and Interval every IntervalPeriod.
func (l *Loop) Run(ctx context.Context) error {
	l.Start(time.Now())
	defer l.Stop()

	every := l.renderDuration
	frame := time.NewTicker(every)
	defer frame.Stop()
	interval := time.NewTicker(IntervalPeriod)
	defer interval.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-frame.C:
			l.Tick(now)
		case now := <-interval.C:
			l.Interval(now)
		}
		if every != l.renderDuration {
			every = l.renderDuration
			frame.Reset(every)
		}
	}
}

// average is a rolling mean over the last averageWindow samples. Slots not
// yet written count as zero.
type average struct {
	slots [averageWindow]float64
	next  int
}

func (a *average) add(v float64) float64 {
	a.slots[a.next] = v
	a.next = (a.next + 1) % averageWindow
	sum := 0.0
	for _, s := range a.slots {
		sum += s
	}
	return math.Round(sum/averageWindow*100) / 100
}
