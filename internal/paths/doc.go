// Provides platform-appropriate paths for cruxship.
//
// All paths follow XDG conventions on Linux and platform-native conventions
// on macOS. The program name "cruxship" is used as the subdirectory under
// each base path.
package paths
