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

// Package qa answers questions about project documents from retrieved chunks.
//
// A question is embedded, the closest chunks of the project are read from
// the vector store, and the generator composes an answer that may cite only
// the sources it was shown. When nothing similar enough is stored the
// service reports that instead of producing an answer.
package qa
