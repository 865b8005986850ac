// Package di provides a small reflection-based dependency injection
// container. Components register under string keys either as pre-created
// singletons or as lazy constructors; the provider manager additionally
// resolves constructor arguments by type when instantiating providers.
package di
