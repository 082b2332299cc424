// Package controller multiplexes several nanoem plugins behind one flat
// function table.
//
// Plugins are numbered in load order and their functions concatenated:
// with plugins of 2 and 3 functions, flat index 3 is the second function of
// the second plugin. SetFunction selects a flat index; every configure,
// execute, extract and UI call afterwards goes to the owning plugin only.
// Initialize, Create, SetLanguage, Destroy and Terminate go to all of them.
package controller
