// Copyright 2023 The Cockroach Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// SPDX-License-Identifier: Apache-2.0

// Package chaos wraps a router.Engine so that calls fail with a
// configurable probability, for exercising the sync coordinator and
// engine's retry/abort paths under induced failure.
package chaos

import (
	"context"
	"math/rand"

	"github.com/pkg/errors"

	"github.com/querysync/core/internal/exec/router"
	"github.com/querysync/core/internal/sql/dialect"
)

// ErrChaos is the error injected by an Engine wrapped with Wrap.
var ErrChaos = errors.New("chaos")

// Wrap returns delegate unchanged if prob <= 0, otherwise an Engine whose
// QueryContext and ExecContext fail with ErrChaos with probability prob.
func Wrap(delegate router.Engine, prob float32) router.Engine {
	if prob <= 0 {
		return delegate
	}
	return &engine{delegate: delegate, prob: prob}
}

type engine struct {
	delegate router.Engine
	prob     float32
}

var _ router.Engine = (*engine)(nil)

func (e *engine) Dialect() dialect.Kind { return e.delegate.Dialect() }

func (e *engine) QueryContext(ctx context.Context, statement string, args []any) (router.Rows, error) {
	if rand.Float32() < e.prob {
		return nil, doChaos("QueryContext")
	}
	return e.delegate.QueryContext(ctx, statement, args)
}

func (e *engine) ExecContext(ctx context.Context, statement string, args []any) error {
	if rand.Float32() < e.prob {
		return doChaos("ExecContext")
	}
	return e.delegate.ExecContext(ctx, statement, args)
}

func doChaos(msg string) error {
	return errors.WithMessage(ErrChaos, msg)
}
