package idref

import "github.com/crisref/harvest-core/internal/harvester"

// init registers the IdRef factory with the harvester registry.
func init() {
	harvester.Register(harvesterName, func(deps harvester.Deps, settings map[string]string) (harvester.Harvester, error) {
		return New(deps, settings)
	})
}
