// Package attribution implements the gRPC transport for the attribution status API.
//
// It converts engine state to protobuf Struct messages and exposes a server
// that calls into a provided business-service interface.
package attribution
