package relay

import "log"

// playbackState tracks what the caller has actually heard during one agent
// turn. Mutated only by the goroutine running the call's event loop.
type playbackState struct {
	aiSpeaking        bool
	latestMediaTS     int64
	responseStartTS   int64 // -1 until the turn's first audio delta
	lastAssistantItem string
	supersededItem    string
	pendingMarks      int
}

func newPlaybackState() *playbackState {
	return &playbackState{responseStartTS: -1}
}

func (p *playbackState) noteMediaTimestamp(ts int64) {
	p.latestMediaTS = ts
}

// noteDelta records one outgoing audio delta. The first delta of a turn
// fixes the playback start timestamp; later deltas must not move it.
func (p *playbackState) noteDelta(itemID string) {
	p.aiSpeaking = true
	if p.responseStartTS < 0 {
		p.responseStartTS = p.latestMediaTS
	}
	if itemID != "" {
		p.lastAssistantItem = itemID
	}
}

// drops reports whether an audio delta belongs to an item cut by barge-in.
func (p *playbackState) drops(itemID string) bool {
	return itemID != "" && itemID == p.supersededItem
}

// endTurn resets speaking state when a response completes normally.
func (p *playbackState) endTurn() {
	p.aiSpeaking = false
	p.responseStartTS = -1
	p.lastAssistantItem = ""
}

// bargeInController cuts an in-flight agent turn when the caller starts
// talking over it. The two funcs write to the reasoning and telephony legs.
type bargeInController struct {
	truncate func(itemID string, elapsedMs int64) error
	clear    func() error
}

// interrupt runs the full barge-in sequence. It completes before the event
// loop processes anything else; remembering the cut item lets drops reject
// its stragglers even when they were already queued.
func (c *bargeInController) interrupt(p *playbackState) {
	if !p.aiSpeaking {
		return
	}
	if p.lastAssistantItem != "" && p.responseStartTS >= 0 {
		elapsed := p.latestMediaTS - p.responseStartTS
		if elapsed < 0 {
			elapsed = 0
		}
		if err := c.truncate(p.lastAssistantItem, elapsed); err != nil {
			log.Printf("bargein: truncate: %v", err)
		}
	}
	if err := c.clear(); err != nil {
		log.Printf("bargein: clear telephony queue: %v", err)
	}
	p.aiSpeaking = false
	p.pendingMarks = 0
	p.responseStartTS = -1
	p.supersededItem = p.lastAssistantItem
	p.lastAssistantItem = ""
}
