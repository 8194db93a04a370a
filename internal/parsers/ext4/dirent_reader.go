package ext4

import (
	"fmt"

	"github.com/deploymenttheory/go-blockinject/internal/types"
)

// ParseDirents walks the linear directory records of one directory block.
// Deleted records (inode 0) are skipped but still advance the walk.
func ParseDirents(block []byte) ([]types.Ext4Dirent, error) {
	var out []types.Ext4Dirent
	off := 0
	for off+types.Ext4DirentHeaderSize <= len(block) {
		d := block[off:]
		recLen := le.Uint16(d[4:6])
		nameLen := d[6]

		if recLen < types.Ext4DirentHeaderSize || recLen%4 != 0 || off+int(recLen) > len(block) {
			return out, fmt.Errorf("corrupt directory record at offset %d: rec_len %d", off, recLen)
		}
		if int(nameLen)+types.Ext4DirentHeaderSize > int(recLen) {
			return out, fmt.Errorf("corrupt directory record at offset %d: name_len %d exceeds rec_len %d", off, nameLen, recLen)
		}

		ino := le.Uint32(d[0:4])
		if ino != 0 {
			out = append(out, types.Ext4Dirent{
				Inode:    ino,
				RecLen:   recLen,
				NameLen:  nameLen,
				FileType: d[7],
				Name:     string(d[types.Ext4DirentHeaderSize : types.Ext4DirentHeaderSize+int(nameLen)]),
				Offset:   uint32(off),
			})
		}
		off += int(recLen)
	}
	return out, nil
}

// FindDirent returns the record called name in block.
func FindDirent(block []byte, name string) (types.Ext4Dirent, bool, error) {
	ents, err := ParseDirents(block)
	for _, e := range ents {
		if e.Name == name {
			return e, true, nil
		}
	}
	return types.Ext4Dirent{}, false, err
}

// DirentField returns the byte span of field inside record e, relative to
// the start of the block. An empty field or an unknown one selects the
// whole record.
func DirentField(e types.Ext4Dirent, field string) types.FieldSpan {
	span, ok := types.Ext4DirentFields[field]
	if !ok {
		return types.FieldSpan{Offset: e.Offset, Size: uint32(e.RecLen)}
	}
	size := span.Size
	if field == "name" {
		size = uint32(e.NameLen)
	}
	return types.FieldSpan{Offset: e.Offset + span.Offset, Size: size}
}
