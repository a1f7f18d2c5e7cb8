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

package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"
	"github.com/vulnix-dev/vulnix/pubsub"
)

type Broker struct {
	mock.Mock
}

func NewBroker(t testingT) *Broker {
	m := &Broker{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *Broker) Publish(ctx context.Context, message pubsub.Message) error {
	return m.Called(ctx, message).Error(0)
}

func (m *Broker) Subscribe(topic pubsub.Channel) (<-chan map[string]any, error) {
	ret := m.Called(topic)
	var r0 <-chan map[string]any
	if v, ok := ret.Get(0).(<-chan map[string]any); ok {
		r0 = v
	} else if v, ok := ret.Get(0).(chan map[string]any); ok {
		r0 = v
	}
	return r0, ret.Error(1)
}
