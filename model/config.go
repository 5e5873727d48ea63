// Package model contains the shared sequence decoder core, the
// autoregressive sampling engine, and the configuration and loss
// plumbing used by the vertex and face models.
package model

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// DecoderConfig shapes a Transformer encoder or decoder stack.
type DecoderConfig struct {
	HiddenSize  int     `mapstructure:"hidden_size"`
	FCSize      int     `mapstructure:"fc_size"`
	NumLayers   int     `mapstructure:"num_layers"`
	NumHeads    int     `mapstructure:"num_heads"`
	DropoutRate float32 `mapstructure:"dropout_rate"`
}

// WithDefaults fills unset fields with the standard small-model shape.
func (c DecoderConfig) WithDefaults() DecoderConfig {
	if c.HiddenSize == 0 {
		c.HiddenSize = 128
	}
	if c.FCSize == 0 {
		c.FCSize = 512
	}
	if c.NumLayers == 0 {
		c.NumLayers = 3
	}
	if c.NumHeads == 0 {
		c.NumHeads = 4
	}
	return c
}

// Validate rejects shapes the attention arithmetic cannot support.
func (c DecoderConfig) Validate() error {
	if c.HiddenSize%c.NumHeads != 0 {
		return fmt.Errorf("hidden_size %d is not divisible by num_heads %d", c.HiddenSize, c.NumHeads)
	}
	if c.DropoutRate < 0 || c.DropoutRate >= 1 {
		return fmt.Errorf("dropout_rate %f out of range [0, 1)", c.DropoutRate)
	}
	return nil
}

// DecoderConfigFromMap decodes a map-shaped config, the form training
// scripts usually carry these options in.
func DecoderConfigFromMap(m map[string]any) (DecoderConfig, error) {
	var c DecoderConfig
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &c,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return c, err
	}
	if err := dec.Decode(m); err != nil {
		return c, fmt.Errorf("decoder config: %w", err)
	}

	c = c.WithDefaults()
	return c, c.Validate()
}
