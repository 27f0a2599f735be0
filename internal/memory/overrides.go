package memory

import "github.com/fyrsmithlabs/memoryd/internal/config"

// Effective is the configuration in force for one (org, agent) pair after
// the defaults -> org -> agent cascade. All fields are concrete.
type Effective struct {
	Write         config.WritePolicy
	Retrieval     config.RetrievalPolicy
	Collection    config.CollectionPolicy
	Model         string
	EmbeddingDims int
}

// ResolveOverrides computes the effective configuration for a tenant pair.
// Each overlay is per-field: an unset field inherits from the level below.
// Unknown orgs and agents are equivalent to empty overlays.
func ResolveOverrides(core *config.CoreConfig, orgID, agentID string) Effective {
	eff := Effective{
		Write:         core.Write,
		Retrieval:     core.Retrieval,
		Collection:    core.Collection,
		Model:         core.Model,
		EmbeddingDims: core.EmbeddingDims,
	}

	org, ok := core.Organisations[orgID]
	if !ok {
		return eff
	}
	overlay(&eff, org.TenantOverrides)

	if agentID != "" {
		if agent, ok := org.Agents[agentID]; ok {
			overlay(&eff, agent)
		}
	}
	return eff
}

func overlay(eff *Effective, o config.TenantOverrides) {
	if o.Write != nil {
		eff.Write = *o.Write
	}
	if o.Retrieval != nil {
		eff.Retrieval = *o.Retrieval
	}
	if o.Collection != nil {
		eff.Collection = *o.Collection
	}
	if o.Model != "" {
		eff.Model = o.Model
	}
	if o.EmbeddingDims != 0 {
		eff.EmbeddingDims = o.EmbeddingDims
	}
}
