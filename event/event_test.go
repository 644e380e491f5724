// Copyright 2026 Blink Labs Software
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

package event

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testEventType = EventType("test.event")

func TestEventBusSubscribePublish(t *testing.T) {
	bus := NewEventBus(nil)
	defer bus.Stop()

	_, ch := bus.Subscribe(testEventType)
	bus.Publish(testEventType, NewEvent(testEventType, "hello"))

	select {
	case evt := <-ch:
		assert.Equal(t, testEventType, evt.Type)
		assert.Equal(t, "hello", evt.Data)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestEventBusSubscribeFunc(t *testing.T) {
	bus := NewEventBus(nil)
	defer bus.Stop()

	var wg sync.WaitGroup
	wg.Add(1)
	var got Event
	bus.SubscribeFunc(testEventType, func(evt Event) {
		got = evt
		wg.Done()
	})
	bus.Publish(testEventType, NewEvent(testEventType, 42))
	wg.Wait()
	assert.Equal(t, 42, got.Data)
}

func TestEventBusMultipleSubscribers(t *testing.T) {
	bus := NewEventBus(nil)
	defer bus.Stop()

	_, ch1 := bus.Subscribe(testEventType)
	_, ch2 := bus.Subscribe(testEventType)
	bus.Publish(testEventType, NewEvent(testEventType, "fanout"))

	for _, ch := range []<-chan Event{ch1, ch2} {
		select {
		case evt := <-ch:
			assert.Equal(t, "fanout", evt.Data)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for event")
		}
	}
}

func TestEventBusUnsubscribe(t *testing.T) {
	bus := NewEventBus(nil)
	defer bus.Stop()

	subId, ch := bus.Subscribe(testEventType)
	bus.Unsubscribe(testEventType, subId)

	// Channel should be closed
	_, ok := <-ch
	require.False(t, ok)

	// Publishing after unsubscribe should not panic or block
	bus.Publish(testEventType, NewEvent(testEventType, "dropped"))
}

func TestEventBusStopClosesSubscribers(t *testing.T) {
	bus := NewEventBus(nil)
	_, ch := bus.Subscribe(testEventType)
	bus.Stop()
	_, ok := <-ch
	require.False(t, ok)
	// Publish after stop is a no-op
	bus.Publish(testEventType, NewEvent(testEventType, "late"))
}
