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

// Package extraction turns document text into structured construction
// entities: materials, rooms, trade scopes and schedule milestones.
//
// Each kind is requested through the gateway with its own JSON Schema and
// prompt. Model-reported confidence is clamped to [0,1] and entities below
// the confidence floor are flagged for priority review. Results from
// several content windows are merged by normalized identity before they
// supersede the document's previous entities of that kind.
package extraction
