package core

import "github.com/mirkobrombin/go-lockstep/v1/metrics"

type bufferingEdge int

const (
	edgeNone bufferingEdge = iota
	edgeStart
	edgeEnd
)

// addBufferingOrigin records name as buffering. Names that are not registered
// are ignored so the origin set stays a subset of the participants.
// Callers hold g.mu.
func (g *Group) addBufferingOrigin(name string) bufferingEdge {
	if _, ok := g.participants[name]; !ok {
		return edgeNone
	}
	if _, ok := g.buffering[name]; ok {
		return edgeNone
	}
	g.buffering[name] = struct{}{}
	if len(g.buffering) == 1 {
		return edgeStart
	}
	return edgeNone
}

// removeBufferingOrigin clears name. Callers hold g.mu.
func (g *Group) removeBufferingOrigin(name string) bufferingEdge {
	if _, ok := g.buffering[name]; !ok {
		return edgeNone
	}
	delete(g.buffering, name)
	if len(g.buffering) == 0 {
		return edgeEnd
	}
	return edgeNone
}

// applyEdge stalls or resumes every participant on an idle/buffering
// transition. It runs without g.mu so participants may dispatch from Stall and
// Resume.
func (g *Group) applyEdge(edge bufferingEdge, targets []Participant, origin string) {
	switch edge {
	case edgeStart:
		metrics.BufferingGauge.Inc()
		metrics.BufferingTransitions.WithLabelValues("start").Inc()
		g.logger.Info("lockstep: buffering started", "origin", origin)
		for _, p := range targets {
			p.Stall()
		}
	case edgeEnd:
		metrics.BufferingGauge.Dec()
		metrics.BufferingTransitions.WithLabelValues("end").Inc()
		g.logger.Info("lockstep: buffering finished", "origin", origin)
		for _, p := range targets {
			p.Resume()
		}
	}
}
