// See plugin.go for the Registry type; this file only documents intended
// usage: a third-party plugin package registers itself from init() via
// plugin.RegisterWorkloadType/RegisterHealthCheck/RegisterLogProcessor,
// mirroring plugins/registry.py's entry-point discovery with Go's static
// init-time registration idiom in place of a runtime plugin loader.
package plugin
