package main

import (
	"flag"
	"os"

	"github.com/danmuck/goes/internal/config"
	"github.com/danmuck/goes/internal/logging"
	"github.com/rs/zerolog/log"
)

func main() {
	logging.ConfigureRuntime()
	kind := flag.String("kind", "goes", "config kind: goes|reader")
	output := flag.String("output", "goes.toml", "output path for config template")
	validate := flag.Bool("validate", false, "validate an existing config file")
	input := flag.String("input", "goes.toml", "config path for validation")
	resolved := flag.Bool("resolved", false, "with -validate, print the resolved configuration")
	force := flag.Bool("force", false, "overwrite existing config file")
	flag.Parse()

	if *validate {
		cfg, err := config.Load(*input)
		if err != nil {
			log.Fatal().Err(err).Msg("config invalid")
		}
		log.Info().Str("path", *input).Msg("validated config")
		if *resolved {
			raw, err := config.Encode(cfg)
			if err != nil {
				log.Fatal().Err(err).Msg("encode config")
			}
			_, _ = os.Stdout.Write(raw)
		}
		return
	}

	if err := config.WriteTemplate(*output, *kind, *force); err != nil {
		log.Fatal().Err(err).Msg("write template")
	}
	log.Info().Str("kind", *kind).Str("path", *output).Msg("wrote config template")
}
