// Package factory builds pluggable components, such as metrics sinks, from
// the `type`/`conf` pairs found in configuration files.
//
//	sinks:
//	  - type: influx
//	    conf:
//	      url: http://localhost:8086
//	      bucket: evrange
//
// Each implementation registers a Factory under its type name and decodes
// its conf map with Decode.
package factory
