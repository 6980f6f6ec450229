package telemetry

import (
	"os"
	"path/filepath"
	"strings"
)

// handleRequest dispatches one decoded client request to its handler
// and writes the response(s) back to the originating peer only (the
// broadcast pushes are reserved for lifecycle/stats events every
// collaborator receives).
func (s *Service) handleRequest(p *peer, req *envelope) {
	encoding := s.encoding()

	switch req.Type {
	case MsgGetRoutes:
		s.replyRoutes(p, encoding)
	case MsgGetManifest:
		s.replyManifest(p, encoding)
	case MsgGetConfig:
		s.replyConfig(p, encoding)
	case MsgRequestImmediateStats:
		s.pushImmediateStats()
	case MsgCreateRoute:
		s.handleCreateRoute(p, req, encoding)
	case MsgValidateRouteConflicts:
		s.handleValidateConflicts(p, req, encoding)
	default:
		s.deps.Log.Warnf("telemetry: unrecognized request type %q", req.Type)
	}
}

func (s *Service) replyRoutes(p *peer, encoding string) {
	table := s.deps.Pipeline.Table()
	var paths []string
	if table != nil {
		for _, r := range table.Routes {
			paths = append(paths, r.PathTemplate)
		}
	}
	p.send(&envelope{Type: MsgRoutes, Payload: paths}, encoding)
}

func (s *Service) replyManifest(p *peer, encoding string) {
	entries, err := s.deps.Store.Load()
	if err != nil {
		entries = nil
	}
	p.send(&envelope{Type: MsgUpdateManifest, Payload: entries}, encoding)
}

func (s *Service) replyConfig(p *peer, encoding string) {
	p.send(&envelope{Type: MsgConfig, Payload: s.deps.Options()}, encoding)
}

func (s *Service) pushImmediateStats() {
	s.broadcast(buildServerStatsEnvelope(s.startedAt))
}

// handleCreateRoute writes a new source file under the routes root.
// The route-tree watcher observes the new file and triggers the normal
// full build; this handler only owns the write.
func (s *Service) handleCreateRoute(p *peer, req *envelope, encoding string) {
	var payload CreateRoutePayload
	if err := decodePayload(req.Payload, &payload); err != nil {
		p.send(&envelope{Type: MsgRouteCreateError, Payload: err.Error()}, encoding)
		return
	}

	target, err := s.resolveRouteFilePath(payload)
	if err != nil {
		p.send(&envelope{Type: MsgRouteCreateError, Payload: err.Error()}, encoding)
		return
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		p.send(&envelope{Type: MsgRouteCreateError, Payload: err.Error()}, encoding)
		return
	}
	if err := os.WriteFile(target, []byte(payload.Code), 0o644); err != nil {
		p.send(&envelope{Type: MsgRouteCreateError, Payload: err.Error()}, encoding)
		return
	}

	p.send(&envelope{Type: MsgRouteCreated, Payload: RouteCreatedPayload{Success: true}}, encoding)
}

// resolveRouteFilePath rejects any client-supplied path that would
// escape the routes root, since the collaborator is an untrusted local
// peer once CORS is open (CheckOrigin always true).
func (s *Service) resolveRouteFilePath(payload CreateRoutePayload) (string, error) {
	rel := payload.FilePath
	if rel == "" {
		rel = payload.FileName
	}
	rel = filepath.Clean(rel)

	candidate := rel
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(s.deps.RoutesRoot, rel)
	}

	absRoot, err := filepath.Abs(s.deps.RoutesRoot)
	if err != nil {
		return "", err
	}
	absCandidate, err := filepath.Abs(candidate)
	if err != nil {
		return "", err
	}
	relToRoot, err := filepath.Rel(absRoot, absCandidate)
	if err != nil || strings.HasPrefix(relToRoot, "..") {
		return "", errOutsideRoutesRoot
	}
	return absCandidate, nil
}

func (s *Service) handleValidateConflicts(p *peer, req *envelope, encoding string) {
	var payload ValidateRouteConflictsPayload
	if err := decodePayload(req.Payload, &payload); err != nil {
		p.send(&envelope{Type: MsgRouteCreateError, Payload: err.Error()}, encoding)
		return
	}

	hasConflicts, conflicts := s.checkConflicts(payload.Path, payload.Method)
	p.send(&envelope{
		Type: MsgRouteConflictsValidated,
		Payload: RouteConflictsValidatedPayload{
			HasConflicts: hasConflicts,
			Conflicts:    conflicts,
		},
	}, encoding)
}

// checkConflicts reports route-conflict semantics: a proposed (path,
// method) conflicts with any existing descriptor whose
// matchRegex matches the proposed path and whose methodGate is absent
// or equals the proposed method; a proposed method of "any" conflicts
// with any existing descriptor on the same path template.
func (s *Service) checkConflicts(path, method string) (bool, []string) {
	table := s.deps.Pipeline.Table()
	if table == nil {
		return false, nil
	}

	var conflicts []string
	any := method == "" || strings.EqualFold(method, "any")

	for _, r := range table.Routes {
		if any {
			if r.PathTemplate == path {
				conflicts = append(conflicts, r.PathTemplate)
			}
			continue
		}
		if !r.MatchRegex.MatchString(path) {
			continue
		}
		if r.Method == "" || strings.EqualFold(r.Method, method) {
			conflicts = append(conflicts, r.PathTemplate)
		}
	}

	return len(conflicts) > 0, conflicts
}

type routeRootError string

func (e routeRootError) Error() string { return string(e) }

var errOutsideRoutesRoot = routeRootError("telemetry: create-route path escapes the routes root")
