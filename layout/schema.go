package layout

var schema = string(`
{
  "$schema": "http://json-schema.org/draft-04/schema#",
  "title": "Disk Layout",
  "type": "object",
  "additionalProperties": false,
  "definitions": {
    "partition": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "slot": {"type": "integer", "minimum": 0},
        "name": {"type": "string"},
        "type": {"type": "string"},
        "start": {"type": "integer", "minimum": 0},
        "size": {"type": "string"},
        "sectors": {"type": "integer", "minimum": 0},
        "attrs": {"type": "integer", "minimum": 0},
        "bootable": {"type": "boolean"}
      }
    },
    "partitions": {
      "type": "array",
      "items": { "$ref": "#/definitions/partition" }
    }
  },
  "properties": {
    "label": {"type": "string"},
    "partitions": { "$ref": "#/definitions/partitions" }
  }
}
`)
