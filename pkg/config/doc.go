// Package config loads declarative workload files, the inventory file,
// and daemon configuration, all as YAML (gopkg.in/yaml.v3). Variable
// substitution is a thin text/template pass over the raw file before
// parsing, standing in for the source's Jinja2 templating engine: no
// third-party templating engine appears anywhere in the example pack, so
// this one ambient concern is deliberately built on the standard library.
package config
