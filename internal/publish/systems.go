package publish

// NoteSystemName is the world system that owns notes, links and routes.
const NoteSystemName = "NoteSystem"

const (
	fnCreateNote          = "createNote"
	fnUpdateNote          = "updateNote"
	fnCreateNoteLink      = "createNoteLink"
	fnCreateWaypointGroup = "createWaypointGroup"
	fnAddWaypointStep     = "addWaypointStep"
)

// noteSystemABI declares the NoteSystem entry points the publisher calls.
const noteSystemABI = `[
  {"type":"function","name":"createNote","stateMutability":"nonpayable","outputs":[],"inputs":[
    {"name":"noteId","type":"bytes32"},{"name":"title","type":"string"},{"name":"content","type":"string"},
    {"name":"tags","type":"string[]"},{"name":"headerImageUrl","type":"string"}]},
  {"type":"function","name":"updateNote","stateMutability":"nonpayable","outputs":[],"inputs":[
    {"name":"noteId","type":"bytes32"},{"name":"title","type":"string"},{"name":"content","type":"string"},
    {"name":"tags","type":"string[]"},{"name":"headerImageUrl","type":"string"}]},
  {"type":"function","name":"createNoteLink","stateMutability":"nonpayable","outputs":[],"inputs":[
    {"name":"noteId","type":"bytes32"},{"name":"entityId","type":"bytes32"},
    {"name":"x","type":"int32"},{"name":"y","type":"int32"},{"name":"z","type":"int32"}]},
  {"type":"function","name":"createWaypointGroup","stateMutability":"nonpayable","outputs":[],"inputs":[
    {"name":"noteId","type":"bytes32"},{"name":"groupId","type":"uint16"},{"name":"name","type":"string"},
    {"name":"color","type":"string"},{"name":"visible","type":"bool"}]},
  {"type":"function","name":"addWaypointStep","stateMutability":"nonpayable","outputs":[],"inputs":[
    {"name":"noteId","type":"bytes32"},{"name":"groupId","type":"uint16"},{"name":"index","type":"uint16"},
    {"name":"x","type":"int32"},{"name":"y","type":"int32"},{"name":"z","type":"int32"},{"name":"label","type":"string"}]}
]`
