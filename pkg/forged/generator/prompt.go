package generator

import (
	"fmt"
	"strings"

	"github.com/aymerick/raymond"
)

const (
	pageFileName          = "index.html"
	documentationFileName = "README.md"
	documentationDivider  = "---DOCUMENTATION---"
)

const systemPrompt = `You are an expert front-end engineer. You build complete, self-contained static web applications. Reply exactly in the requested format, with no commentary outside of it.`

const promptTemplate = `You are working on round {{round}} of the task "{{task}}".
{{#if enhance}}
An earlier round of this task is already published as a static web application.
Enhance that application so that it also covers the requirements below.
{{#if baselineDocumentation}}

Documentation of the published application:

{{{baselineDocumentation}}}
{{/if}}
{{else}}
Build a complete static web application from scratch.
{{/if}}

Brief:

{{{brief}}}
{{#if checks}}

The published application is evaluated against these checks:
{{#each checks}}
- {{{this}}}
{{/each}}
{{/if}}
{{#if assets}}

These data files are committed alongside the application, and can be fetched by relative path:
{{#each assets}}

### {{path}}{{#if binary}} (binary, {{size}} bytes){{/if}}
{{#if preview}}
{{{preview}}}
{{/if}}
{{/each}}
{{/if}}

Respond with:

1. The complete contents of index.html, self-contained apart from the data files listed above.
2. A line containing exactly ---DOCUMENTATION---
3. The complete contents of README.md, documenting what the application does and how each check is addressed.`

// BuildPrompt renders the user prompt for a generation request.
func BuildPrompt(request *Request) (string, error) {
	template, err := raymond.Parse(promptTemplate)
	if err != nil {
		return "", fmt.Errorf("parse prompt template: %s", err)
	}

	output, err := template.Exec(templateContext(request))
	if err != nil {
		return "", fmt.Errorf("render prompt template: %s", err)
	}

	return output, nil
}

func templateContext(request *Request) map[string]interface{} {
	assetVars := make([]map[string]interface{}, len(request.Assets))
	for i, asset := range request.Assets {
		assetVars[i] = map[string]interface{}{
			"path":    asset.Name,
			"size":    asset.Size(),
			"binary":  asset.Binary,
			"preview": asset.Preview(),
		}
	}

	return map[string]interface{}{
		"task":                  request.Task,
		"round":                 request.Round,
		"brief":                 request.Brief,
		"checks":                request.Checks,
		"assets":                assetVars,
		"enhance":               request.Enhance,
		"baselineDocumentation": request.BaselineDocumentation,
	}
}

const fallbackDocumentationTemplate = `# {{task}} (round {{round}})

{{{brief}}}

## Usage

Open the published page in a web browser. No additional setup is required.
{{#if checks}}

## Evaluation

The application addresses these checks:
{{#each checks}}
- {{{this}}}
{{/each}}
{{/if}}
`

func fallbackDocumentation(request *Request) string {
	template, err := raymond.Parse(fallbackDocumentationTemplate)
	if err == nil {
		output, err := template.Exec(templateContext(request))
		if err == nil {
			return output
		}
	}
	return fmt.Sprintf("# %s\n\n%s\n", request.Task, request.Brief)
}

// ParseBundle extracts generated files from a model reply. The reply
// format is the page contents, a divider line, then the documentation.
func ParseBundle(reply string) (*Bundle, error) {
	page, documentation, _ := strings.Cut(reply, documentationDivider)

	page = stripFence(strings.TrimSpace(page))
	if len(page) == 0 {
		return nil, fmt.Errorf("generated reply contains no application page")
	}

	files := map[string]string{
		pageFileName: trailingNewline(page),
	}

	documentation = stripFence(strings.TrimSpace(documentation))
	if len(documentation) > 0 {
		files[documentationFileName] = trailingNewline(documentation)
	}

	return &Bundle{Files: files}, nil
}

// Models tend to wrap whole replies in a Markdown code fence.
// Only the outermost fence is removed.
func stripFence(text string) string {
	if !strings.HasPrefix(text, "```") {
		return text
	}
	lines := strings.Split(text, "\n")
	last := len(lines) - 1
	if last < 1 || strings.TrimSpace(lines[last]) != "```" {
		return text
	}
	return strings.TrimSpace(strings.Join(lines[1:last], "\n"))
}

func trailingNewline(text string) string {
	if strings.HasSuffix(text, "\n") {
		return text
	}
	return text + "\n"
}
