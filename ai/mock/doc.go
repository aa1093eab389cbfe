// Copyright 2025 Poiesic Systems
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

// Package mock provides test doubles for the ai package interfaces.
//
// # Usage
//
//	embedder := mock.NewMockEmbedder(768).
//	    WithEmbedTextFunc(func(ctx context.Context, text string) ([]float32, error) {
//	        return nil, errors.New("503 service unavailable")
//	    })
//
//	generator := mock.NewMockGenerator().
//	    WithResponse("rooms", `{"rooms":[{"room_name":"Lobby","confidence":0.9}]}`)
//
//	// Check call counts
//	count := generator.CallCount("rooms")
//
// # Default Behavior
//
//   - MockEmbedder: returns deterministic unit vectors based on text hash
//   - MockGenerator: returns the scripted response for the request task, or "{}"
//   - MockProvider: aggregates a mock embedder and generator
package mock
