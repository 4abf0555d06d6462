/*
Package sandbox hosts the two bridge domains as embedded JavaScript
runtimes.

# Overview

Each Runtime is a goja VM driven by one event loop goroutine. Scripts,
timer callbacks, promise settlement and bridge traffic all run as jobs on
that loop, so the VM is never touched concurrently. The runtime provides:

  - console.log/debug/info/warn/error, recorded and forwarded to zap
  - setTimeout/setInterval and their clear functions
  - window as an alias of the global object
  - no require, process, module or exports

# Bridge object

Bind installs window.TerabithiaBridge[id] with:

	handlers              commands registered in this domain
	functions.<command>   proxies for commands the counterpart announced
	addHandlers(obj)      register functions (sync or async) by name
	execute(cmd, data)    call the counterpart, returns a promise
	executeInMain         alias of execute in the ISOLATED domain
	executeInIsolated     alias of execute in the MAIN domain

Installing a second bridge object for the same id logs an error to the
console and keeps the first one.

# Hosting

Domain pairs a runtime with its endpoint. Tab boots both domains on one
channel:

	tab, err := sandbox.NewTab(ctx, channel.NewMemory(0), sandbox.TabOptions{
		BridgeID: "ext",
		Proxies:  true,
		Config:   sandbox.DefaultConfig(),
	})
	defer tab.Close()

	tab.Isolated().Load(ctx, "background.js", `
		TerabithiaBridge.ext.addHandlers({ echo: function (x) { return x; } });
	`)
	res, err := tab.Main().Execute(ctx, `TerabithiaBridge.ext.executeInIsolated("echo", 42)`)
*/
package sandbox
