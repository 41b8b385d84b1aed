package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"marketplace-assistant/internal/domain"
)

const (
	toolGetServiceCategories = "get_service_categories"
	toolGetServiceProvider   = "get_service_provider"
	toolGetProfileInfo       = "get_profile_info"
)

// MarketplaceReader is the slice of the data access layer the tools query.
type MarketplaceReader interface {
	ListActiveCategoryTags(ctx context.Context) ([]string, error)
	FindProvidersByTag(ctx context.Context, tag string) ([]string, error)
	FindProfileByName(ctx context.Context, name string) (domain.Profile, error)
}

// Tool is one callable lookup advertised to the model. Implementations must
// not fail on legitimately empty query results.
type Tool interface {
	Name() string
	Declaration() domain.ToolDeclaration
	Invoke(ctx context.Context, args map[string]any) (any, error)
}

// ToolRegistry holds the closed set of tools and dispatches model tool calls
// to them by name.
type ToolRegistry struct {
	tools map[string]Tool
	order []string
}

// NewToolRegistry builds the registry with the three marketplace lookup tools
// bound to the given reader.
func NewToolRegistry(reader MarketplaceReader) (*ToolRegistry, error) {
	if reader == nil {
		return nil, errors.New("usecase: marketplace reader must not be nil")
	}
	r := &ToolRegistry{tools: make(map[string]Tool)}
	for _, t := range []Tool{
		&categoriesTool{reader: reader},
		&providerTool{reader: reader},
		&profileTool{reader: reader},
	} {
		r.tools[t.Name()] = t
		r.order = append(r.order, t.Name())
	}
	return r, nil
}

// Declarations returns the tool declarations in registration order.
func (r *ToolRegistry) Declarations() []domain.ToolDeclaration {
	decls := make([]domain.ToolDeclaration, 0, len(r.order))
	for _, name := range r.order {
		decls = append(decls, r.tools[name].Declaration())
	}
	return decls
}

// Dispatch invokes the named tool. The second return value is false when the
// name is not in the registry; no invocation happens in that case.
func (r *ToolRegistry) Dispatch(ctx context.Context, call domain.ToolCall) (any, bool, error) {
	tool, ok := r.tools[call.Name]
	if !ok {
		return nil, false, nil
	}
	result, err := tool.Invoke(ctx, call.Args)
	if err != nil {
		return nil, true, fmt.Errorf("usecase: tool %s: %w", call.Name, err)
	}
	return result, true, nil
}

type categoriesTool struct {
	reader MarketplaceReader
}

func (t *categoriesTool) Name() string { return toolGetServiceCategories }

func (t *categoriesTool) Declaration() domain.ToolDeclaration {
	return domain.ToolDeclaration{
		Name:        toolGetServiceCategories,
		Description: "Get service categories from the database",
		Parameters:  &domain.Schema{Type: "object"},
	}
}

func (t *categoriesTool) Invoke(ctx context.Context, _ map[string]any) (any, error) {
	return t.reader.ListActiveCategoryTags(ctx)
}

type providerTool struct {
	reader MarketplaceReader
}

func (t *providerTool) Name() string { return toolGetServiceProvider }

func (t *providerTool) Declaration() domain.ToolDeclaration {
	return domain.ToolDeclaration{
		Name:        toolGetServiceProvider,
		Description: "Get service providers based on the tags",
		Parameters: &domain.Schema{
			Type: "object",
			Properties: map[string]*domain.Schema{
				"tag": {
					Type:        "string",
					Description: "the category of the service the user is looking for",
				},
			},
		},
	}
}

func (t *providerTool) Invoke(ctx context.Context, args map[string]any) (any, error) {
	tag := stringArg(args, "tag")
	if tag == "" {
		return nil, errors.New("missing tag argument")
	}
	return t.reader.FindProvidersByTag(ctx, tag)
}

type profileTool struct {
	reader MarketplaceReader
}

func (t *profileTool) Name() string { return toolGetProfileInfo }

func (t *profileTool) Declaration() domain.ToolDeclaration {
	return domain.ToolDeclaration{
		Name:        toolGetProfileInfo,
		Description: "Get profile info based on the name",
		Parameters: &domain.Schema{
			Type: "object",
			Properties: map[string]*domain.Schema{
				"name": {
					Type:        "string",
					Description: "the name of the service provider",
				},
			},
		},
	}
}

// Invoke returns the matching profile, or a structured not-found result so the
// model can tell the user instead of the invocation failing.
func (t *profileTool) Invoke(ctx context.Context, args map[string]any) (any, error) {
	name := stringArg(args, "name")
	if name == "" {
		return nil, errors.New("missing name argument")
	}
	profile, err := t.reader.FindProfileByName(ctx, name)
	if errors.Is(err, domain.ErrProfileNotFound) {
		return map[string]any{
			"found":   false,
			"message": fmt.Sprintf("no service provider profile matches the name %q", name),
		}, nil
	}
	if err != nil {
		return nil, err
	}
	return profile, nil
}

func stringArg(args map[string]any, key string) string {
	v, ok := args[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(s)
}
