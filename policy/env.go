package policy

/*
Here the Env used in the delete policy expressions is defined.
Once this struct is fixed, it should not be changed, otherwise configured expressions may not compile any more
(f.e. if properties are renamed etc.)
*/

type Actor struct {
	Id string
}

type Message struct {
	Id       int64
	AuthorId string
	Private  bool
}

type Room struct {
	Id      int64 // 0 for private rooms
	Key     string
	OwnerId string // creator of a group room, empty for private rooms
}

type Env struct {
	Actor   Actor
	Message Message
	Room    Room
}
