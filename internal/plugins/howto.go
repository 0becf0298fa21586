package plugins

import (
	"context"
	"strings"

	"github.com/praxishq/praxis/core/pkg/contracts"
)

// recipe is one canned instruction set the howto plugin can serve.
type recipe struct {
	keywords []string
	text     string
}

// Howto serves step-by-step instructions and small scripts for topics it
// recognizes. It does not generate code; it matches against a curated
// recipe table and admits low confidence outside it.
type Howto struct {
	recipes []recipe
}

// NewHowto creates the howto plugin with the default recipe table.
func NewHowto() *Howto {
	return &Howto{recipes: defaultRecipes}
}

func (h *Howto) Name() string                  { return "howto" }
func (h *Howto) Capabilities() []string        { return []string{"howto"} }
func (h *Howto) Init(contracts.Registry) error { return nil }

func (h *Howto) Handle(_ context.Context, req *contracts.Request) (*contracts.Response, error) {
	lower := strings.ToLower(req.Text)
	// Context-dependent fragments ("yes" after an offer) arrive with the
	// prior turn attached; match against both.
	if prior, ok := req.Metadata["prior_turn"]; ok {
		lower += " " + strings.ToLower(prior)
	}

	var best *recipe
	bestHits := 0
	for i := range h.recipes {
		hits := 0
		for _, kw := range h.recipes[i].keywords {
			if strings.Contains(lower, kw) {
				hits++
			}
		}
		if hits > bestHits {
			bestHits = hits
			best = &h.recipes[i]
		}
	}
	if best == nil {
		return &contracts.Response{
			Text:       "I don't have instructions for that yet.",
			Confidence: 0.1,
		}, nil
	}

	confidence := 0.7
	if bestHits > 1 {
		confidence = 0.85
	}
	return &contracts.Response{Text: best.text, Confidence: confidence}, nil
}

var defaultRecipes = []recipe{
	{
		keywords: []string{"build", "script"},
		text: "Here is a build script:\n\n" +
			"```sh\n#!/bin/sh\nset -eu\n\n" +
			"mkdir -p build\ncd build\n" +
			"cmake .. -DCMAKE_BUILD_TYPE=Release\n" +
			"make -j\"$(nproc)\"\n```\n\n" +
			"Save it as build.sh, mark it executable with chmod +x build.sh, and run it from the project root.",
	},
	{
		keywords: []string{"install", "docker"},
		text: "To install Docker:\n\n" +
			"1. Update the package index: sudo apt-get update\n" +
			"2. Install: sudo apt-get install docker.io\n" +
			"3. Add yourself to the docker group: sudo usermod -aG docker \"$USER\"\n" +
			"4. Log out and back in, then verify with: docker run hello-world",
	},
	{
		keywords: []string{"git", "branch"},
		text: "Working with Git branches:\n\n" +
			"1. Create and switch: git switch -c my-feature\n" +
			"2. Push the branch: git push -u origin my-feature\n" +
			"3. List branches: git branch -a\n" +
			"4. Merge back: git switch main && git merge my-feature",
	},
	{
		keywords: []string{"compile", "instructions"},
		text: "General compile steps:\n\n" +
			"1. Install the toolchain for your language\n" +
			"2. Fetch dependencies (package manager or vendored)\n" +
			"3. Run the project's build command from its root\n" +
			"4. Artifacts usually land in build/, dist/, or bin/",
	},
}
