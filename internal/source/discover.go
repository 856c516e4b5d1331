package source

import (
	"context"
	"strings"

	"github.com/lmwafulirwa/emr-dqa/internal/logging"
)

// DefaultDenylist contains schema names that match the facility prefix but are
// not live facilities: the bare template schema, known test copies and the
// devops sandbox.
var DefaultDenylist = []string{
	"openmrs_",
	"openmrs_area18_test",
	"openmrs_khonjeni_Thu",
	"openmrs_mulanje_dh_Thu",
	"openmrs_devops",
}

// FilterSchemas retains names with the facility prefix, minus the default
// denylist and any extra exclusions. Listing order is preserved so repeated
// runs report facilities in a stable order.
func FilterSchemas(names []string, prefix string, exclude []string) []string {
	denied := make(map[string]bool, len(DefaultDenylist)+len(exclude))
	for _, d := range DefaultDenylist {
		denied[d] = true
	}
	for _, d := range exclude {
		denied[d] = true
	}

	var schemas []string
	for _, name := range names {
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		if denied[name] {
			continue
		}
		schemas = append(schemas, name)
	}
	return schemas
}

// Discover lists the instance's databases and filters them to facility schemas.
func (p *Pool) Discover(ctx context.Context, exclude []string) ([]string, error) {
	names, err := p.ListDatabases(ctx)
	if err != nil {
		return nil, err
	}

	schemas := FilterSchemas(names, p.cfg.Audit.SchemaPrefix, append(p.cfg.Audit.Denylist, exclude...))
	logging.Info("%d facility schemas selected for processing", len(schemas))
	return schemas, nil
}
