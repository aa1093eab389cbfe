package badger

import (
	"encoding/binary"

	"github.com/poiesic/blueprint/core"
)

// Key prefixes. String components are terminated by sep so that one id can
// never be a prefix of another.
const (
	sep = "\x00"

	chunkPrefix     = "vchunk:"
	chunkDocPrefix  = "vdoc:"
	chunkProjPrefix = "vproj:"
	listPrefix      = "vlist:"
	assignPrefix    = "vassign:"
	centroidsKey    = "vmeta:centroids"
	dimensionKey    = "vmeta:dim"

	jobPrefix      = "job:"
	jobEventPrefix = "jobev:"
	jobStagePrefix = "jobstg:"

	entityPrefix    = "ent:"
	entityDocPrefix = "entdoc:"

	documentPrefix = "doc:"
	deadPrefix     = "dlq:"
)

func idBytes(id core.ID) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(id))
	return buf
}

func concat(parts ...[]byte) []byte {
	n := 0
	for _, p := range parts {
		n += len(p)
	}
	buf := make([]byte, 0, n)
	for _, p := range parts {
		buf = append(buf, p...)
	}
	return buf
}

// makeChunkKey generates the primary key of a chunk.
// Format: prefix:id
func makeChunkKey(id core.ID) []byte {
	return concat([]byte(chunkPrefix), idBytes(id))
}

// makeChunkDocKey generates the document equality index key.
// Format: prefix:documentID\x00id
func makeChunkDocKey(documentID string, id core.ID) []byte {
	return concat(makeChunkDocPrefix(documentID), idBytes(id))
}

func makeChunkDocPrefix(documentID string) []byte {
	return []byte(chunkDocPrefix + documentID + sep)
}

// makeChunkProjKey generates the project equality index key.
// Format: prefix:projectID\x00documentID\x00id
func makeChunkProjKey(projectID, documentID string, id core.ID) []byte {
	return concat(makeChunkProjPrefix(projectID), []byte(documentID+sep), idBytes(id))
}

func makeChunkProjPrefix(projectID string) []byte {
	return []byte(chunkProjPrefix + projectID + sep)
}

// makeListKey generates an IVF posting key. Postings are grouped by list,
// then by project, so a project-filtered probe is a prefix scan.
// Format: prefix:list(u32)projectID\x00id
func makeListKey(list uint32, projectID string, id core.ID) []byte {
	return concat(makeListProjectPrefix(list, projectID), idBytes(id))
}

func makeListPrefix(list uint32) []byte {
	buf := make([]byte, len(listPrefix)+4)
	n := copy(buf, listPrefix)
	binary.BigEndian.PutUint32(buf[n:], list)
	return buf
}

func makeListProjectPrefix(list uint32, projectID string) []byte {
	return concat(makeListPrefix(list), []byte(projectID+sep))
}

// makeAssignKey records which list a chunk's posting lives in.
func makeAssignKey(id core.ID) []byte {
	return concat([]byte(assignPrefix), idBytes(id))
}

// idFromKeySuffix reads the trailing 8-byte chunk id of an index key.
func idFromKeySuffix(key []byte) core.ID {
	return core.ID(binary.BigEndian.Uint64(key[len(key)-8:]))
}

func makeJobKey(jobID string) []byte {
	return []byte(jobPrefix + jobID)
}

// makeJobEventKey generates an event log key ordered by sequence.
// Format: prefix:jobID\x00seq(u64)
func makeJobEventKey(jobID string, seq uint64) []byte {
	buf := concat(makeJobEventPrefix(jobID), make([]byte, 8))
	binary.BigEndian.PutUint64(buf[len(buf)-8:], seq)
	return buf
}

func makeJobEventPrefix(jobID string) []byte {
	return []byte(jobEventPrefix + jobID + sep)
}

// makeStageKey generates the key of a staged step sub-item.
// Format: prefix:jobID\x00step\x00index(u32)
func makeStageKey(jobID string, step core.StepKey, index int) []byte {
	buf := concat(makeStagePrefix(jobID, step), make([]byte, 4))
	binary.BigEndian.PutUint32(buf[len(buf)-4:], uint32(index))
	return buf
}

func makeStagePrefix(jobID string, step core.StepKey) []byte {
	return []byte(jobStagePrefix + jobID + sep + string(step) + sep)
}

func makeJobStagePrefix(jobID string) []byte {
	return []byte(jobStagePrefix + jobID + sep)
}

func stageIndex(key []byte) int {
	return int(binary.BigEndian.Uint32(key[len(key)-4:]))
}

// makeEntityKey generates the primary key of an entity.
// Format: prefix:kind\x00id
func makeEntityKey(kind core.EntityKind, id string) []byte {
	return []byte(entityPrefix + string(kind) + sep + id)
}

func makeEntityKindPrefix(kind core.EntityKind) []byte {
	return []byte(entityPrefix + string(kind) + sep)
}

// makeEntityDocKey generates the document index key of an entity.
// Format: prefix:documentID\x00kind\x00id
func makeEntityDocKey(documentID string, kind core.EntityKind, id string) []byte {
	return []byte(entityDocPrefix + documentID + sep + string(kind) + sep + id)
}

func makeEntityDocPrefix(documentID string) []byte {
	return []byte(entityDocPrefix + documentID + sep)
}

func makeEntityDocKindPrefix(documentID string, kind core.EntityKind) []byte {
	return []byte(entityDocPrefix + documentID + sep + string(kind) + sep)
}

func makeDocumentKey(id string) []byte {
	return []byte(documentPrefix + id)
}

func makeDeadLetterKey(id string) []byte {
	return []byte(deadPrefix + id)
}
