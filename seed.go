package main

import (
	"context"
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"
)

//go:embed seed.yaml
var seedYAML []byte

// SeedFixtures is the sample data created in an empty store.
type SeedFixtures struct {
	Gifts  []SeedGift  `yaml:"gifts"`
	Places []SeedPlace `yaml:"places"`
}

type SeedGift struct {
	Name     string `yaml:"name"`
	Link     string `yaml:"link"`
	Priority string `yaml:"priority"`
	Note     string `yaml:"note"`
}

type SeedPlace struct {
	Name     string   `yaml:"name"`
	Location string   `yaml:"location"`
	Tags     []string `yaml:"tags"`
	Status   string   `yaml:"status"`
	Note     string   `yaml:"note"`
	MapLink  string   `yaml:"mapLink"`
}

// LoadSeedFixtures decodes the embedded sample data.
func LoadSeedFixtures() (SeedFixtures, error) {
	return parseSeedFixtures(seedYAML)
}

func parseSeedFixtures(data []byte) (SeedFixtures, error) {
	var f SeedFixtures
	if err := yaml.Unmarshal(data, &f); err != nil {
		return SeedFixtures{}, fmt.Errorf("decode seed fixtures: %w", err)
	}
	return f, nil
}

// Items converts the fixtures into gifts followed by places.
func (f SeedFixtures) Items() []Item {
	items := make([]Item, 0, len(f.Gifts)+len(f.Places))
	for _, g := range f.Gifts {
		items = append(items, &Gift{
			Base:     Base{Name: g.Name, Note: g.Note},
			Link:     g.Link,
			Priority: Priority(g.Priority),
		})
	}
	for _, p := range f.Places {
		items = append(items, &Place{
			Base:     Base{Name: p.Name, Note: p.Note},
			Location: p.Location,
			Tags:     p.Tags,
			Status:   Status(p.Status),
			MapLink:  p.MapLink,
		})
	}
	return items
}

// Seed creates the fixtures when no gift exists yet and reports how many
// items were created.
func (s *ItemService) Seed(ctx context.Context, fixtures SeedFixtures) (int, error) {
	existing, err := s.records.ListByPrefix(ctx, KindGift.Prefix())
	if err != nil {
		return 0, fmt.Errorf("seed: %w", err)
	}
	if len(existing) > 0 {
		s.logger.InfoContext(ctx, "store already has gifts, skipping seed", "gifts", len(existing))
		return 0, nil
	}

	created := 0
	for _, item := range fixtures.Items() {
		if _, err := s.Create(ctx, item); err != nil {
			return created, fmt.Errorf("seed %s %q: %w", item.Kind(), item.base().Name, err)
		}
		created++
	}
	s.logger.InfoContext(ctx, "seeded sample data", "items", created)
	return created, nil
}
