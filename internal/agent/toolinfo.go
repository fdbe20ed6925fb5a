package agent

import (
	"github.com/obra/lace-sub001/internal/provider"
	"github.com/obra/lace-sub001/internal/tooling"
)

// ToolInfos projects a tool registry into the ToolInfo slice a Provider
// consumes for its function-calling surface.
func ToolInfos(registry *tooling.Registry) []provider.ToolInfo {
	tools := registry.List()
	infos := make([]provider.ToolInfo, 0, len(tools))
	for _, t := range tools {
		infos = append(infos, provider.ToolInfo{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.InputSchema(),
		})
	}
	return infos
}
