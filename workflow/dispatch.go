package workflow

// phase is the position inside the Initializing state
type phase int

const (
	phaseIdle phase = iota
	phaseAwaitPlaying
	phaseAwaitPosition
	phaseAwaitPaused
)

// transition is what one expected backend signal does
type transition struct {
	on     Signal
	next   phase
	ready  bool
	action func(w *ClipWorkflow, s Session) error
}

// initTransitions drives a fresh session to the clip's in-point:
// playing -> seek to in-point -> first position change -> pause -> paused -> Ready.
var initTransitions = map[phase]transition{
	phaseAwaitPlaying: {
		on:     SignalPlaying,
		next:   phaseAwaitPosition,
		action: seekToInPoint,
	},
	phaseAwaitPosition: {
		on:     SignalPositionChanged,
		next:   phaseAwaitPaused,
		action: pauseSession,
	},
	phaseAwaitPaused: {
		on:    SignalPaused,
		next:  phaseIdle,
		ready: true,
	},
}

func seekToInPoint(w *ClipWorkflow, s Session) error {
	return s.SetTime(w.clip.In)
}

func pauseSession(_ *ClipWorkflow, s Session) error {
	return s.Pause()
}
