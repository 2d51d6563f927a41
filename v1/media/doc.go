// Package media adapts playable components to the sync group contract.
//
// Member implements the participant side of a group: a handler table, Send
// and Receive with the audibility rule, and the buffering stall memory.
// Audio, Video, Paragraphs and TimeSeries compose a Member with the handlers
// their component understands. Any Player can be driven; Virtual is an
// in-memory one used by the simulator and tests.
package media
