// evccdump connects to a controller once and prints the descriptors and
// every entity's current value.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/goccy/go-yaml"
	"github.com/levenlabs/go-lflag"

	"github.com/raterudder/evccbridge/pkg/bridge"
	"github.com/raterudder/evccbridge/pkg/entity"
	"github.com/raterudder/evccbridge/pkg/log"
	"github.com/raterudder/evccbridge/pkg/types"
)

type dumpEntity struct {
	ID    string `yaml:"id" json:"id"`
	Name  string `yaml:"name" json:"name"`
	Kind  string `yaml:"kind" json:"kind"`
	Unit  string `yaml:"unit,omitempty" json:"unit,omitempty"`
	Value any    `yaml:"value" json:"value"`
	Raw   any    `yaml:"raw,omitempty" json:"raw,omitempty"`
}

type dump struct {
	Controller string                      `yaml:"controller" json:"controller"`
	Flags      types.SchemaFlags           `yaml:"flags" json:"flags"`
	Loadpoints []types.LoadpointDescriptor `yaml:"loadpoints" json:"loadpoints"`
	Vehicles   []types.VehicleDescriptor   `yaml:"vehicles" json:"vehicles"`
	Entities   []dumpEntity                `yaml:"entities" json:"entities"`
}

func main() {
	cfg := bridge.Configured()
	format := lflag.String("dump-format", "yaml", "Output format (yaml or json)")
	raw := lflag.Bool("dump-raw", false, "Include the unconverted snapshot value of each entity")
	lflag.Configure()

	ctx := context.Background()

	b := bridge.New(*cfg, nil, nil)
	entities := entity.NewRegistry(b.URL(), b, cfg.Prefix())
	entities.EnableTariffs(cfg.Tariffs)
	b.Attach(nil, entities)

	if err := b.Start(ctx); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to start bridge", slog.Any("error", err))
		os.Exit(1)
	}
	entities.Build(ctx, b.Loadpoints(), b.Vehicles())

	d := dump{
		Controller: b.URL(),
		Flags:      b.Flags(),
		Loadpoints: b.Loadpoints(),
		Vehicles:   b.Vehicles(),
	}
	for _, e := range entities.All() {
		md := e.Metadata()
		de := dumpEntity{
			ID:   e.ID(),
			Name: md.Name,
			Kind: md.Kind,
			Unit: md.Unit,
		}
		if v := e.CurrentValue(); v.Present {
			de.Value = v.V
		}
		if *raw {
			if v := b.ResolveRaw(md.Tag, md.Index); v.Present {
				de.Raw = v.V
			}
		}
		d.Entities = append(d.Entities, de)
	}

	var out []byte
	var err error
	switch *format {
	case "yaml":
		out, err = yaml.Marshal(d)
	case "json":
		out, err = json.MarshalIndent(d, "", "  ")
		out = append(out, '\n')
	default:
		err = fmt.Errorf("unknown format: %s", *format)
	}
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to encode dump", slog.Any("error", err))
		os.Exit(1)
	}
	if _, err := os.Stdout.Write(out); err != nil {
		os.Exit(1)
	}
}
