package app

import "fmt"

// Group is a named collection of apps started/stopped together.
type Group struct {
	Name    string
	Members []App
}

// BuildGroups resolves each GroupConfig's member names against the
// decoded app list: decode specs, then cross-reference by name.
func BuildGroups(groupConfigs []GroupConfig, apps []App) ([]Group, error) {
	byName := make(map[string]App, len(apps))
	for _, a := range apps {
		byName[a.Name] = a
	}

	groups := make([]Group, 0, len(groupConfigs))
	for _, gc := range groupConfigs {
		if gc.Name == "" {
			return nil, fmt.Errorf("app: a group entry requires a name")
		}
		if len(gc.Members) == 0 {
			return nil, fmt.Errorf("app: group %q requires members", gc.Name)
		}
		members := make([]App, 0, len(gc.Members))
		for _, name := range gc.Members {
			a, ok := byName[name]
			if !ok {
				return nil, fmt.Errorf("app: group %q references unknown app %q", gc.Name, name)
			}
			members = append(members, a)
		}
		groups = append(groups, Group{Name: gc.Name, Members: members})
	}
	return groups, nil
}

// StartFunc starts a single app, returning an error on failure.
type StartFunc func(App) error

// StopFunc stops a single app by name, best-effort.
type StopFunc func(name string)

// Start starts every member app in order; if any fails, every
// already-started member in this call is rolled back (stopped) before the
// error is returned.
func (g Group) Start(start StartFunc, stop StopFunc) error {
	started := make([]string, 0, len(g.Members))
	for _, a := range g.Members {
		if err := start(a); err != nil {
			for i := len(started) - 1; i >= 0; i-- {
				stop(started[i])
			}
			return fmt.Errorf("app: group %s failed starting %s: %w", g.Name, a.Name, err)
		}
		started = append(started, a.Name)
	}
	return nil
}

// Stop stops every member regardless of individual outcome.
func (g Group) Stop(stop StopFunc) {
	for _, a := range g.Members {
		stop(a.Name)
	}
}
