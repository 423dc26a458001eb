// Package registry discovers and caches the runtime environments that can
// host a notebook server.
//
// A Registry starts discovery when it is created. Candidates come from an
// Enumerator (PATH, conda install roots and, on Windows, the PythonCore
// registry keys), are de-duplicated by canonical path, resolved
// concurrently and filtered by the version requirements. The result is
// sorted by kind, then newest requirement versions, then display name.
//
// User-added environments always precede discovered ones and are persisted
// through a store.Store together with the discovered list, the default
// environment and the runtime root.
//
// Observers register with Subscribe and are called, outside the registry
// lock, whenever the list changes.
package registry
