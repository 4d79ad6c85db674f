// Package config provides sockline.json parsing for the sockline command.
//
// The file is a flat JSON object; every field is optional and absent fields
// keep the server defaults. Unknown fields are rejected.
//
// # Configuration File Structure
//
//	{
//	  "addr": ":8081",
//	  "prefix": "/echo",
//	  "heartbeat": "25s",
//	  "disconnectDelay": "5s",
//	  "responseLimit": 131072,
//	  "websocket": true,
//	  "cookieNeeded": false,
//	  "sockjsUrl": "https://cdn.jsdelivr.net/npm/sockjs-client@1/dist/sockjs.min.js",
//	  "logLevel": "info"
//	}
//
// # Usage
//
//	cfg, err := config.LoadFrom(".")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	srvCfg, err := cfg.ServerConfig()
package config
