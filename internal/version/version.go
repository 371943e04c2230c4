// Copyright Arch Gateway Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

// Package version carries the build version stamped in at link time.
package version

// Version is set via -ldflags "-X github.com/archgw/archgw/internal/version.Version=vX.Y.Z".
var Version = "dev"
