package study

import "sort"

// LoadingStatus aggregates the outcome of a discovery pass. Per-file
// failures are recorded here against the file's derived id; loading
// itself never fails outward.
type LoadingStatus struct {
	LoadedCount int
	ErrorCount  int
	LoadedIDs   []string
	Errors      map[string]string
}

func newLoadingStatus() LoadingStatus {
	return LoadingStatus{Errors: make(map[string]string)}
}

func (s *LoadingStatus) recordLoaded(id string) {
	s.LoadedIDs = append(s.LoadedIDs, id)
	sort.Strings(s.LoadedIDs)
	s.LoadedCount = len(s.LoadedIDs)
}

func (s *LoadingStatus) recordError(id string, err error) {
	s.Errors[id] = err.Error()
	s.ErrorCount = len(s.Errors)
}

func (s LoadingStatus) clone() LoadingStatus {
	out := LoadingStatus{
		LoadedCount: s.LoadedCount,
		ErrorCount:  s.ErrorCount,
		LoadedIDs:   append([]string(nil), s.LoadedIDs...),
		Errors:      make(map[string]string, len(s.Errors)),
	}
	for k, v := range s.Errors {
		out.Errors[k] = v
	}
	return out
}

// RuntimeStatus is the diagnostic snapshot exposed to the host. It is
// always available and never carries an error itself.
type RuntimeStatus struct {
	LoadedCount    int
	ErrorCount     int
	Errors         map[string]string
	PluginRootPath string
}
