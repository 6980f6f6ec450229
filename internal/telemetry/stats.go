package telemetry

import (
	"runtime"
	"time"

	"github.com/kiln-framework/kiln/internal/eventbus"
)

// publishStatsLoop is the 1 Hz telemetry publisher task: it owns no
// other state than the clock and runs independently of the request
// path and the build worker.
func (s *Service) publishStatsLoop() {
	defer close(s.statsDoneCh)

	ticker := time.NewTicker(StatsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.broadcast(buildServerStatsEnvelope(s.startedAt))
			s.broadcast(buildDevServerStatsEnvelope())
		case <-s.statsStopCh:
			return
		}
	}
}

func buildServerStatsEnvelope(startedAt time.Time) *envelope {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	return &envelope{
		Type: MsgServerStats,
		Payload: ServerStatsPayload{
			Uptime:       time.Since(startedAt).Seconds(),
			MemoryUsage:  mem.Alloc,
			NumGoroutine: runtime.NumGoroutine(),
		},
	}
}

func buildDevServerStatsEnvelope() *envelope {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	return &envelope{
		Type: MsgDevServerStats,
		Payload: map[string]interface{}{
			"heapAlloc":  mem.HeapAlloc,
			"goroutines": runtime.NumGoroutine(),
		},
	}
}

// translateEvent maps an orchestrator event-bus event onto the wire
// message catalog. Events with no telemetry-facing counterpart (e.g.
// raw file paths the collaborator has no use for beyond a log line)
// return nil, which Notify treats as "nothing to send."
func (s *Service) translateEvent(ev eventbus.Event) *envelope {
	switch ev.Name {
	case eventbus.BuildSuccess:
		return &envelope{Type: MsgBuildStatus, Payload: BuildStatusPayload{
			Success:   true,
			Timestamp: time.Now().UnixMilli(),
		}}
	case eventbus.BuildError:
		msg := ""
		if err, ok := ev.Data.(error); ok {
			msg = err.Error()
		}
		return &envelope{Type: MsgBuildStatus, Payload: BuildStatusPayload{
			Success:   false,
			Error:     msg,
			Timestamp: time.Now().UnixMilli(),
		}}
	case eventbus.BuildComplete:
		return &envelope{Type: MsgManifestUpdate, Payload: ManifestUpdatePayload{
			Timestamp: time.Now().UnixMilli(),
		}}
	default:
		return nil
	}
}
