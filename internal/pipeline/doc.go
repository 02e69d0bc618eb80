// Package pipeline runs the three phases of an intersect job over a fixed
// pool of workers sharing one counting array.
//
// Phase A loads every input file in turn. Phase B writes the k-mers present
// in all files. Phase C re-reads each file and writes its k-mers that occur
// exactly once overall. Workers meet at a cyclic barrier between steps;
// worker 0 opens and closes the parsers and output files and hands them to
// the others through a single slot that is only written while the other
// workers are parked at a barrier.
package pipeline
