// Copyright (C) 2025 vulnix-dev
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package utils

import (
	"sync"

	"golang.org/x/sync/errgroup"
)

// errGroup collects the results of concurrently executed functions while
// bounding the number of goroutines running at once.
type errGroup[T any] struct {
	group   *errgroup.Group
	mut     sync.Mutex
	results []T
}

func ErrGroup[T any](limit int) *errGroup[T] {
	g := &errgroup.Group{}
	g.SetLimit(limit)
	return &errGroup[T]{
		group:   g,
		results: make([]T, 0),
	}
}

func (g *errGroup[T]) Go(f func() (T, error)) {
	g.group.Go(func() error {
		r, err := f()
		if err != nil {
			return err
		}
		g.mut.Lock()
		g.results = append(g.results, r)
		g.mut.Unlock()
		return nil
	})
}

// WaitAndCollect blocks until every submitted function returned and hands
// back the collected results. The first error cancels the wait.
func (g *errGroup[T]) WaitAndCollect() ([]T, error) {
	if err := g.group.Wait(); err != nil {
		return nil, err
	}
	return g.results, nil
}

// CollectErrors is like WaitAndCollect but keeps the partial results of the
// functions that succeeded even when others failed.
func CollectErrors[T any](limit int, fs []func() (T, error)) ([]T, []error) {
	var (
		mut     sync.Mutex
		results []T
		errs    []error
		wg      sync.WaitGroup
		sem     = make(chan struct{}, limit)
	)

	for _, f := range fs {
		wg.Add(1)
		sem <- struct{}{}
		go func(f func() (T, error)) {
			defer wg.Done()
			defer func() { <-sem }()
			r, err := f()
			mut.Lock()
			defer mut.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			results = append(results, r)
		}(f)
	}

	wg.Wait()
	return results, errs
}
