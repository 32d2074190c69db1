package engine

import "sync"

// Recorder is a Surface that tracks applied commands and optionally
// forwards them. Sessions use it to fan commands out to browser streams
// and keep only what a late stream needs to rebuild the style; tests use
// the full-log variant to assert on every command.
type Recorder struct {
	mu       sync.Mutex
	full     bool
	commands []Command
	replay   []Command
	slot     map[string]int
	forward  func(Command)
}

// NewRecorder returns a recorder that logs every command and calls
// forward (if non-nil) for each one.
func NewRecorder(forward func(Command)) *Recorder {
	return &Recorder{full: true, forward: forward, slot: make(map[string]int)}
}

// NewReplayRecorder returns a recorder that only keeps the replay set:
// sources and layers by id and the last filter per layer. Commands is
// always empty.
func NewReplayRecorder(forward func(Command)) *Recorder {
	return &Recorder{forward: forward, slot: make(map[string]int)}
}

// replayKey names the slot a command occupies in the replay set, or ""
// for commands that are not replayed.
func replayKey(c Command) string {
	switch cmd := c.(type) {
	case AddSource:
		return "source:" + cmd.Source.ID
	case AddLayer:
		return "layer:" + cmd.Layer.ID
	case SetFilter:
		return "filter:" + cmd.LayerID
	}
	return ""
}

// Apply implements Surface.
func (r *Recorder) Apply(cmd Command) error {
	r.mu.Lock()
	if r.full {
		r.commands = append(r.commands, cmd)
	}
	if key := replayKey(cmd); key != "" {
		if i, ok := r.slot[key]; ok {
			r.replay[i] = cmd
		} else {
			r.slot[key] = len(r.replay)
			r.replay = append(r.replay, cmd)
		}
	}
	r.mu.Unlock()
	if r.forward != nil {
		r.forward(cmd)
	}
	return nil
}

// Commands returns a copy of the log.
func (r *Recorder) Commands() []Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Command, len(r.commands))
	copy(out, r.commands)
	return out
}

// Replay returns the registration and filter commands needed to rebuild
// the style on a fresh engine: sources, layers, and the last filter per layer.
func (r *Recorder) Replay() []Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Command, len(r.replay))
	copy(out, r.replay)
	return out
}

// Reset clears the log and the replay set.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.commands = nil
	r.replay = nil
	r.slot = make(map[string]int)
	r.mu.Unlock()
}

// Ops returns the op names of the log, handy in assertions.
func (r *Recorder) Ops() []string {
	cmds := r.Commands()
	out := make([]string, len(cmds))
	for i, c := range cmds {
		out[i] = c.Op()
	}
	return out
}

// Of returns the logged commands of type T.
func Of[T Command](r *Recorder) []T {
	var out []T
	for _, c := range r.Commands() {
		if t, ok := c.(T); ok {
			out = append(out, t)
		}
	}
	return out
}
