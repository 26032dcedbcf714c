package graphrag

import (
	"fmt"
	"sort"
	"strings"
)

// ContextAssembler assembles structured markdown context from graph
// traversal data within a soft token budget. Grounded on
// graph_rag/context_assembler.py: 8 prioritized sections (0-7), token
// estimate chars/4, truncation marker.
type ContextAssembler struct {
	maxTokens    int
	charsPerToken int
}

// NewContextAssembler creates an assembler with the given token budget
// and chars-per-token estimate (both exposed as GraphRAGConfig fields).
func NewContextAssembler(maxTokens, charsPerToken int) *ContextAssembler {
	if maxTokens <= 0 {
		maxTokens = 2000
	}
	if charsPerToken <= 0 {
		charsPerToken = 4
	}
	return &ContextAssembler{maxTokens: maxTokens, charsPerToken: charsPerToken}
}

type section struct {
	name     string
	text     string
	priority int
}

// AssembleServiceContext produces the markdown context block for a
// service, in priority order: 0 header, 1
// dependencies, 2 consumed APIs, 3 referenced entities, 4 provided APIs,
// 5 events, 6 owned entities, 7 integration notes.
func (a *ContextAssembler) AssembleServiceContext(
	serviceName string,
	providedEndpoints []map[string]string,
	consumedEndpoints []map[string]string,
	eventsPublished []map[string]string,
	eventsConsumed []map[string]string,
	ownedEntities []EntityRef,
	referencedEntities []EntityRef,
	dependsOn []string,
	dependedOnBy []string,
) string {
	var sections []section

	sections = append(sections, section{"header", fmt.Sprintf("## Graph RAG Context: %s", serviceName), 0})

	if len(dependsOn) > 0 || len(dependedOnBy) > 0 {
		lines := []string{"### Service Dependencies"}
		lines = append(lines, fmt.Sprintf("- **Depends on:** %s", joinOrNone(dependsOn)))
		lines = append(lines, fmt.Sprintf("- **Depended on by:** %s", joinOrNone(dependedOnBy)))
		sections = append(sections, section{"dependencies", strings.Join(lines, "\n"), 1})
	}

	if len(consumedEndpoints) > 0 {
		lines := []string{"### APIs This Service Must Consume", "| Method | Path | Provider Service |", "|--------|------|-----------------|"}
		for _, ep := range consumedEndpoints {
			lines = append(lines, fmt.Sprintf("| %s | %s | %s |", ep["method"], ep["path"], ep["provider_service"]))
		}
		sections = append(sections, section{"consumed_apis", strings.Join(lines, "\n"), 2})
	}

	if len(referencedEntities) > 0 {
		lines := []string{"### Domain Entities Referenced (from other services)"}
		for _, ent := range referencedEntities {
			if ent.OwningService != "" {
				lines = append(lines, fmt.Sprintf("#### %s (owned by %s)", ent.Name, ent.OwningService))
			} else {
				lines = append(lines, fmt.Sprintf("#### %s", ent.Name))
			}
			lines = append(lines, renderFields(ent.Fields)...)
		}
		sections = append(sections, section{"referenced_entities", strings.Join(lines, "\n"), 3})
	}

	if len(providedEndpoints) > 0 {
		lines := []string{"### APIs This Service Provides", "| Method | Path | Handler |", "|--------|------|---------|"}
		for _, ep := range providedEndpoints {
			lines = append(lines, fmt.Sprintf("| %s | %s | %s |", ep["method"], ep["path"], ep["handler"]))
		}
		sections = append(sections, section{"provided_apis", strings.Join(lines, "\n"), 4})
	}

	if len(eventsPublished) > 0 {
		lines := []string{"### Events Published", "| Event Name | Channel |", "|------------|---------|"}
		for _, ev := range eventsPublished {
			lines = append(lines, fmt.Sprintf("| %s | %s |", ev["event_name"], ev["channel"]))
		}
		sections = append(sections, section{"events_published", strings.Join(lines, "\n"), 5})
	}

	if len(eventsConsumed) > 0 {
		lines := []string{"### Events Consumed", "| Event Name | Publisher |", "|------------|----------|"}
		for _, ev := range eventsConsumed {
			lines = append(lines, fmt.Sprintf("| %s | %s |", ev["event_name"], ev["publisher_service"]))
		}
		sections = append(sections, section{"events_consumed", strings.Join(lines, "\n"), 5})
	}

	if len(ownedEntities) > 0 {
		lines := []string{"### Domain Entities Owned"}
		for _, ent := range ownedEntities {
			lines = append(lines, fmt.Sprintf("#### %s", ent.Name))
			lines = append(lines, renderFields(ent.Fields)...)
		}
		sections = append(sections, section{"owned_entities", strings.Join(lines, "\n"), 6})
	}

	notes := generateIntegrationNotes(consumedEndpoints, eventsPublished, eventsConsumed, dependedOnBy)
	if len(notes) > 0 {
		lines := []string{"### Cross-Service Integration Notes"}
		for _, n := range notes {
			lines = append(lines, "- "+n)
		}
		sections = append(sections, section{"integration_notes", strings.Join(lines, "\n"), 7})
	}

	return a.truncateToBudget(sections)
}

// AssembleCommunitySummary produces a short markdown summary for a
// detected community (used for ContextRecord documents in indexer Phase
// 4), matching context_assembler.py's assemble_community_summary.
func (a *ContextAssembler) AssembleCommunitySummary(communityID int, members []map[string]interface{}, edges []map[string]interface{}) string {
	memberIDs := make([]string, 0, len(members))
	servicesSet := map[string]bool{}
	for _, m := range members {
		if id, _ := m["id"].(string); id != "" {
			memberIDs = append(memberIDs, id)
		}
		if svc, _ := m["service_name"].(string); svc != "" {
			servicesSet[svc] = true
		}
	}
	var services []string
	for s := range servicesSet {
		services = append(services, s)
	}
	sort.Strings(services)

	var relationships []string
	for i, e := range edges {
		if i >= 20 {
			break
		}
		src, _ := e["source"].(string)
		tgt, _ := e["target"].(string)
		rel, _ := e["relation"].(string)
		relationships = append(relationships, fmt.Sprintf("%s --[%s]--> %s", src, rel, tgt))
	}

	memberDisplay := memberIDs
	suffix := ""
	if len(memberIDs) > 30 {
		memberDisplay = memberIDs[:30]
		suffix = "..."
	}

	lines := []string{
		fmt.Sprintf("## Community %d", communityID),
		fmt.Sprintf("**Members:** %s%s", strings.Join(memberDisplay, ", "), suffix),
		fmt.Sprintf("**Key relationships:** %s", joinSemicolonOrNone(relationships)),
		fmt.Sprintf("**Services:** %s", joinOrNone(services)),
	}
	return strings.Join(lines, "\n")
}

// truncateToBudget sorts sections ascending by priority and includes
// whole sections while under budget; the section that would overflow is
// included as a character-level prefix with a truncation marker, and
// everything after it is discarded.
func (a *ContextAssembler) truncateToBudget(sections []section) string {
	sorted := append([]section(nil), sections...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].priority < sorted[j].priority })

	var result []string
	tokensUsed := 0
	for _, s := range sorted {
		sectionTokens := len(s.text) / a.charsPerToken
		if tokensUsed+sectionTokens <= a.maxTokens {
			result = append(result, s.text)
			tokensUsed += sectionTokens
			continue
		}
		remaining := a.maxTokens - tokensUsed
		if remaining > 0 {
			truncatedChars := remaining * a.charsPerToken
			if truncatedChars > len(s.text) {
				truncatedChars = len(s.text)
			}
			result = append(result, s.text[:truncatedChars]+"\n[... truncated ...]")
		}
		break
	}
	return strings.Join(result, "\n\n")
}

func renderFields(fields []map[string]interface{}) []string {
	var lines []string
	for _, field := range fields {
		name, _ := field["name"].(string)
		typ, _ := field["type"].(string)
		desc, _ := field["description"].(string)
		entry := fmt.Sprintf("- %s: %s", name, typ)
		if desc != "" {
			entry += fmt.Sprintf(" (%s)", desc)
		}
		lines = append(lines, entry)
	}
	return lines
}

func generateIntegrationNotes(consumedEndpoints []map[string]string, eventsPublished, eventsConsumed []map[string]string, dependedOnBy []string) []string {
	var notes []string
	for _, ep := range consumedEndpoints {
		provider, method, path := ep["provider_service"], ep["method"], ep["path"]
		if provider != "" && method != "" && path != "" {
			notes = append(notes, fmt.Sprintf("When calling %s %s %s, ensure the request matches the provider's contract schema.", provider, method, path))
		}
	}
	for _, ev := range eventsPublished {
		name := ev["event_name"]
		if name == "" {
			continue
		}
		consumersStr := ""
		if len(dependedOnBy) > 0 {
			consumersStr = fmt.Sprintf(" Downstream services (%s) may consume this event -- ensure payload schema is stable.", strings.Join(dependedOnBy, ", "))
		}
		notes = append(notes, fmt.Sprintf("When publishing %s, include all required fields in the payload.%s", name, consumersStr))
	}
	for _, ev := range eventsConsumed {
		name, publisher := ev["event_name"], ev["publisher_service"]
		if name != "" && publisher != "" {
			notes = append(notes, fmt.Sprintf("Event %s is published by %s. Implement idempotent handling for this event.", name, publisher))
		}
	}
	return notes
}

func joinOrNone(items []string) string {
	if len(items) == 0 {
		return "none"
	}
	return strings.Join(items, ", ")
}

func joinSemicolonOrNone(items []string) string {
	if len(items) == 0 {
		return "none"
	}
	return strings.Join(items, "; ")
}
